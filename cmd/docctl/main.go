// docctl is a small CLI exercising the client coordination layer end to end:
// it uploads files through the upload queue, follows job progress over the
// realtime connection, and reads document bodies through the content cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/docvault/backend/pkg/apiclient"
	"github.com/docvault/backend/pkg/content"
	"github.com/docvault/backend/pkg/event"
	"github.com/docvault/backend/pkg/realtime"
	"github.com/docvault/backend/pkg/uploadqueue"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	token := flag.String("token", "", "realtime credential")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := apiclient.New(*server, *token, nil)
	ctx := context.Background()

	var err error
	switch args[0] {
	case "upload":
		err = runUpload(ctx, client, *server, *token, args[1:])
	case "list":
		err = runList(ctx, client)
	case "get":
		err = runGet(ctx, client, args[1:])
	case "ping":
		err = runPing(*server, *token)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: docctl [-server URL] [-token TOKEN] <upload files...|list|get id|ping>")
}

// runUpload enqueues the files and follows their progress over the realtime
// connection until every item reaches a terminal state.
func runUpload(ctx context.Context, client *apiclient.Client, server, token string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("upload: at least one file required")
	}

	registry := realtime.NewRegistry()
	conn := realtime.NewManager(realtime.Config{BaseURL: server, Token: token}, registry)
	conn.Connect("")
	defer conn.Disconnect()

	queue := uploadqueue.New(client, 0)
	queue.Bind(registry)
	defer queue.Unbind()

	files := make([]uploadqueue.File, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		path := path
		files = append(files, uploadqueue.File{
			Name:        filepath.Base(path),
			Size:        info.Size(),
			ContentType: contentTypeFor(path),
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
	}

	done := make(chan struct{}, 1)
	poke := func(event.Envelope) {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	defer registry.On(event.JobCompleted, poke)()
	defer registry.On(event.JobFailed, poke)()

	ids := queue.Enqueue(ctx, files...)
	log.Printf("Enqueued %d file(s)", len(ids))

	for {
		if printQueue(queue) {
			return nil
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// printQueue prints the queue state and reports whether all items are
// terminal.
func printQueue(queue *uploadqueue.Controller) bool {
	allDone := true
	for _, item := range queue.Items() {
		fmt.Printf("  %-30s %-10s %3d%%", item.FileName, item.Status, item.Progress)
		if item.Error != "" {
			fmt.Printf("  (%s)", item.Error)
		}
		fmt.Println()
		if !item.Status.Terminal() {
			allDone = false
		}
	}
	return allDone
}

func runList(ctx context.Context, client *apiclient.Client) error {
	docs, err := client.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-10s %-30s %s\n", doc.ID, doc.Status, doc.Name, doc.PreviewLine)
	}
	return nil
}

func runGet(ctx context.Context, client *apiclient.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("get: document id required")
	}
	cache := content.New(client, 0)
	body, err := cache.GetContent(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Print(body)
	return nil
}

func runPing(server, token string) error {
	registry := realtime.NewRegistry()
	conn := realtime.NewManager(realtime.Config{BaseURL: server, Token: token}, registry)
	conn.Connect("")
	defer conn.Disconnect()

	// Give the transport a moment to establish.
	deadline := time.Now().Add(5 * time.Second)
	for !conn.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	if conn.TestConnection(context.Background()) {
		fmt.Printf("ok (%s)\n", conn.ActiveTransport())
		return nil
	}
	return fmt.Errorf("no acknowledgement from %s", server)
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	case ".txt", ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
