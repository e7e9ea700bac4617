// Command torrentcore downloads a single torrent to a directory and
// prints a 1 Hz progress line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alexflint/go-arg"

	torrentcore "github.com/kestrel-dev/torrentcore"
	"github.com/kestrel-dev/torrentcore/metainfo"
)

type args struct {
	MetainfoPath string `arg:"positional,required" help:"path to the .torrent file"`
	DownloadDir  string `arg:"positional,required" help:"directory to download into"`
	ListenPort   int    `arg:"--listen-port" default:"6881"`
	ResumeDB     string `arg:"--resume-db"`
}

func main() {
	var a args
	arg.MustParse(&a)

	if err := run(a); err != nil {
		fmt.Fprintln(os.Stderr, "torrentcore:", err)
		os.Exit(1)
	}
}

func run(a args) error {
	mi, err := metainfo.LoadFromFile(a.MetainfoPath)
	if err != nil {
		return err
	}

	cfg := torrentcore.DefaultClientConfig()
	cfg.ListenPort = a.ListenPort
	cfg.ResumeDBPath = a.ResumeDB

	client, err := torrentcore.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	t, err := client.AddTorrent(mi, a.DownloadDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-ticker.C:
			stats := t.Stats()
			fmt.Println(stats.String())
			if t.State() == torrentcore.StateSeeding {
				return nil
			}
		}
	}
}
