package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/verifai/verifai/internal/client/report"
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

func main() {

	server := flag.String("s", "http://127.0.0.1:8080", "server base URL")
	file := flag.String("f", "", "image file to analyze")
	flag.Parse()

	if *file == "" {
		log.Println("no input file, use -f")
		return
	}

	contentType, ok := contentTypes[strings.ToLower(filepath.Ext(*file))]
	if !ok {
		log.Printf("unsupported file type: %s", *file)
		return
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	ctx := context.Background()
	client := report.NewClient(*server)

	grant, err := client.RequestToken(ctx, contentType, int64(len(data)))
	if err != nil {
		log.Printf("token request failed: %v", err)
		return
	}

	if err := client.Upload(ctx, grant.UploadURL, contentType, data); err != nil {
		log.Printf("upload failed: %v", err)
		return
	}

	res, err := client.Finalize(ctx, grant.JobID)
	if err != nil {
		log.Printf("finalize failed: %v", err)
		return
	}
	if res.Cached {
		log.Printf("identical image already analyzed, reusing job %s", res.JobID)
	}

	result, err := report.NewPoller(client).Wait(ctx, res.JobID)
	if err != nil {
		log.Printf("polling failed: %v", err)
		return
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Printf("%v", err)
		return
	}
	fmt.Println(string(out))

}
