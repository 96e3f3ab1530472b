package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"chatcore/internal/chatserver"
)

var version = "1.0"

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	port := flag.Int("port", 8443, "TCP port to listen on")
	usersPath := flag.String("users", "users.db", "path to the credential store file")
	flag.Parse()

	if *port < 1024 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "chatcore-server: -port must be between 1024 and 65535\n")
		os.Exit(1)
	}

	server, err := chatserver.NewServer(*usersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatcore-server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Listen(addr); err != nil {
		fmt.Fprintf(os.Stderr, "chatcore-server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("chatcore-server v%s listening on %s (credentials: %s)\n", version, server.Addr(), *usersPath)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	fmt.Println("\nshutting down...")
	if err := server.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "chatcore-server: stop: %v\n", err)
		os.Exit(1)
	}
}
