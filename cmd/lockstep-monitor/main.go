package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	url := flag.String("url", "http://localhost:8090/status", "Status endpoint of the node to watch")
	interval := flag.Duration("interval", 500*time.Millisecond, "Poll interval")
	flag.Parse()

	if *interval <= 0 {
		log.Fatalf("Invalid -interval %s", *interval)
	}

	client := newStatusClient(*url, 2*time.Second)
	p := tea.NewProgram(initialModel(client, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running monitor: %v\n", err)
		os.Exit(1)
	}
}
