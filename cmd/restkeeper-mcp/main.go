package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	restmcp "github.com/claude/restkeeper/internal/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", os.Getenv("RESTKEEPER_URL"), "RestKeeper server URL (e.g. https://restkeeper.tail1234.ts.net)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("restkeeper-mcp", Version)
		return
	}

	// stdout carries the MCP protocol.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *serverURL == "" {
		fmt.Fprintf(os.Stderr, "Usage: restkeeper-mcp -server <URL>\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	s := restmcp.New(restmcp.NewHTTPClient(*serverURL), Version, log)
	log.Info("serving MCP over stdio", "server", *serverURL)
	if err := mcpserver.ServeStdio(s); err != nil {
		log.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
