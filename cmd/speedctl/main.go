// Command speedctl is a minimal line-based driver over the speed
// Coordinator (spec §6 "CLI surface (driver-dependent)"). It is not part
// of the core contract: flags map 1:1 onto public Coordinator operations
// and nothing more.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/SharonIV0x86/SPEED"
	"github.com/SharonIV0x86/SPEED/internal/buslocate"
	"github.com/SharonIV0x86/SPEED/internal/config"
)

func main() {
	var (
		name     = flag.String("name", "", "this process's peer name (required)")
		busDir   = flag.String("bus", "", "bus directory (default: platform temp dir)")
		keyPath  = flag.String("key", "", "path to the shared key file (required)")
		cfgPath  = flag.String("config", "", "optional TOML tuning file")
		addPeers = flag.String("add", "", "comma-separated peer names to authorize on startup")
		send     = flag.String("send", "", "peer:text to send once, then exit")
		ping     = flag.String("ping", "", "peer name to ping once, then exit")
		kill     = flag.Bool("kill", false, "publish EXIT_NOTIF to the -add peers and exit immediately")
		getAL    = flag.Bool("getAL", false, "print the access list and exit")
	)
	flag.Parse()

	logger := log.New(os.Stderr).WithPrefix("speedctl")

	if *name == "" {
		logger.Fatal("-name is required")
	}

	var cfg *config.Config
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			logger.Fatal("load config", "error", err)
		}
	} else {
		cfg = &config.Config{}
	}

	key := *keyPath
	if key == "" {
		key = cfg.KeyPath
	}
	if key == "" {
		logger.Fatal("-key is required (or set key_path in -config)")
	}

	dir := *busDir
	if dir == "" {
		dir = cfg.BusDir
	}
	if dir == "" {
		var err error
		dir, err = buslocate.DefaultDir()
		if err != nil {
			logger.Fatal("resolve bus dir", "error", err)
		}
	}

	coord, err := speed.New(*name, speed.Multi, dir, cfg)
	if err != nil {
		logger.Fatal("create coordinator", "error", err)
	}
	if err := coord.SetKeyFile(key); err != nil {
		logger.Fatal("load key", "error", err)
	}
	coord.SetCallback(func(m speed.Message) {
		fmt.Printf("[%s] %s\n", m.SenderName, m.PayloadText)
	})

	for _, peer := range splitCSV(*addPeers) {
		if err := coord.AddProcess(peer); err != nil {
			logger.Warn("add_process", "peer", peer, "error", err)
		}
	}

	if *kill {
		if err := coord.Kill(); err != nil {
			logger.Fatal("kill", "error", err)
		}
		return
	}

	if err := coord.Start(); err != nil {
		logger.Fatal("start", "error", err)
	}
	defer coord.Kill()

	if *getAL {
		for _, peer := range coord.AccessList() {
			fmt.Println(peer)
		}
		return
	}

	if *ping != "" {
		if err := coord.Ping(*ping); err != nil {
			logger.Error("ping", "peer", *ping, "error", err)
		}
		return
	}

	if *send != "" {
		peer, text, ok := strings.Cut(*send, ":")
		if !ok {
			logger.Fatal("-send expects peer:text")
		}
		if err := coord.Send(text, peer); err != nil {
			logger.Error("send", "peer", peer, "error", err)
		}
		return
	}

	// No one-shot flag given: read "peer:text" lines from stdin until EOF,
	// sending each as a MSG.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		peer, text, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			logger.Warn("ignoring malformed line, expected peer:text")
			continue
		}
		if err := coord.Send(text, peer); err != nil {
			logger.Error("send", "peer", peer, "error", err)
		}
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
