package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pipesnap/internal/lister"
)

type fieldList []string

func (f *fieldList) String() string { return strings.Join(*f, ",") }

func (f *fieldList) Set(s string) error {
	*f = append(*f, s)
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to the driver YAML config")
	dev := flag.Int("dev", 0, "Device id")
	pipe := flag.Int("pipe", lister.AllPipes, "Logical pipe, -1 for all pipes")
	start := flag.Int("start", 0, "First stage of the snapshot")
	end := flag.Int("end", 0, "Last stage of the snapshot")
	dir := flag.String("dir", "ingress", "Direction: ingress or egress")
	timer := flag.Uint64("timer_us", 0, "Trigger timer in microseconds, 0 to disable")
	mode := flag.String("mode", "", "Trigger mode")
	fire := flag.Bool("fire", false, "Fire the snapshot on the register model and dump the capture")
	raw := flag.Bool("raw", false, "Dump raw container words")
	archive := flag.String("archive", "", "Capture archive database")
	serve := flag.String("serve", "", "Serve diagnostics on this address")
	var fields fieldList
	flag.Var(&fields, "field", "Trigger field name=value[/mask], repeatable")

	flag.Parse()

	if *end < *start {
		fmt.Println("Snapshot Dump : Error: -end must not be below -start")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := lister.Config{
		ConfigPath: *configPath,
		Dev:        *dev,
		Pipe:       *pipe,
		Start:      *start,
		End:        *end,
		Dir:        *dir,
		Fields:     fields,
		TimerUsec:  *timer,
		Mode:       *mode,
		Fire:       *fire,
		Raw:        *raw,
		Archive:    *archive,
		Serve:      *serve,
		Output:     os.Stdout,
	}

	if err := lister.Run(ctx, cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
