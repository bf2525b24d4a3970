package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "upload":
		uploadCmd := flag.NewFlagSet("upload", flag.ExitOnError)
		coordAddr := uploadCmd.String("coordinator", "http://localhost:8080", "Coordinator base URL")
		uploadCmd.Parse(os.Args[2:])
		if uploadCmd.NArg() < 1 {
			fmt.Println("Usage: raidctl upload [-coordinator url] <file>")
			os.Exit(1)
		}
		uploadFile(*coordAddr, uploadCmd.Arg(0))

	case "download":
		downloadCmd := flag.NewFlagSet("download", flag.ExitOnError)
		coordAddr := downloadCmd.String("coordinator", "http://localhost:8080", "Coordinator base URL")
		downloadCmd.Parse(os.Args[2:])
		if downloadCmd.NArg() < 2 {
			fmt.Println("Usage: raidctl download [-coordinator url] <fileName> <outputPath>")
			os.Exit(1)
		}
		downloadFile(*coordAddr, downloadCmd.Arg(0), downloadCmd.Arg(1))

	case "delete":
		deleteCmd := flag.NewFlagSet("delete", flag.ExitOnError)
		coordAddr := deleteCmd.String("coordinator", "http://localhost:8080", "Coordinator base URL")
		deleteCmd.Parse(os.Args[2:])
		if deleteCmd.NArg() < 1 {
			fmt.Println("Usage: raidctl delete [-coordinator url] <fileName>")
			os.Exit(1)
		}
		deleteFile(*coordAddr, deleteCmd.Arg(0))

	case "list":
		listCmd := flag.NewFlagSet("list", flag.ExitOnError)
		coordAddr := listCmd.String("coordinator", "http://localhost:8080", "Coordinator base URL")
		listCmd.Parse(os.Args[2:])
		listFiles(*coordAddr)

	case "search":
		searchCmd := flag.NewFlagSet("search", flag.ExitOnError)
		coordAddr := searchCmd.String("coordinator", "http://localhost:8080", "Coordinator base URL")
		searchCmd.Parse(os.Args[2:])
		if searchCmd.NArg() < 1 {
			fmt.Println("Usage: raidctl search [-coordinator url] <query>")
			os.Exit(1)
		}
		searchFiles(*coordAddr, searchCmd.Arg(0))

	case "status":
		statusCmd := flag.NewFlagSet("status", flag.ExitOnError)
		coordAddr := statusCmd.String("coordinator", "http://localhost:8080", "Coordinator base URL")
		statusCmd.Parse(os.Args[2:])
		showStatus(*coordAddr)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: raidctl <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  upload [-coordinator url] <file>")
	fmt.Println("  download [-coordinator url] <fileName> <outputPath>")
	fmt.Println("  delete [-coordinator url] <fileName>")
	fmt.Println("  list [-coordinator url]")
	fmt.Println("  search [-coordinator url] <query>")
	fmt.Println("  status [-coordinator url]")
}

func uploadFile(coordAddr, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}
	if _, err := io.Copy(part, f); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}
	if err := mw.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error finalizing request: %v\n", err)
		os.Exit(1)
	}

	resp, err := http.Post(coordAddr+"/files", mw.FormDataContentType(), &body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error uploading: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "Upload failed (%d): %s\n", resp.StatusCode, out)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func downloadFile(coordAddr, fileName, outPath string) {
	resp, err := http.Get(coordAddr + "/files/" + fileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error downloading: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		out, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Download failed (%d): %s\n", resp.StatusCode, out)
		os.Exit(1)
	}

	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Downloaded to %s\n", outPath)
}

func deleteFile(coordAddr, fileName string) {
	req, err := http.NewRequest(http.MethodDelete, coordAddr+"/files/"+fileName, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, out)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func listFiles(coordAddr string) {
	printJSONGet(coordAddr + "/files")
}

func searchFiles(coordAddr, query string) {
	printJSONGet(coordAddr + "/search?query=" + query)
}

func showStatus(coordAddr string) {
	printJSONGet(coordAddr + "/status/raid")
}

func printJSONGet(url string) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var pretty bytes.Buffer
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}
