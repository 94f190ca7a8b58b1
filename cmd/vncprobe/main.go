// Command vncprobe checks that a VNC display is reachable, completes
// the handshake, and answers an update request. It is the operator's
// preflight for a connection profile.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jpillora/backoff"

	"github.com/avaropoint/viewport/internal/rfb"
	"github.com/avaropoint/viewport/internal/version"
)

func main() {
	host := flag.String("host", "", "Display host (required)")
	port := flag.Int("port", 5900, "Display port")
	password := flag.String("password", "", "Display password")
	depth := flag.Int("depth", 24, "Requested color depth (8, 16 or 24)")
	retries := flag.Int("retries", 2, "Connect retries on network failure")
	timeout := flag.Duration("timeout", 10*time.Second, "Dial timeout per attempt")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vncprobe %s\n", version.String())
		return
	}
	if *host == "" {
		fmt.Fprintln(os.Stderr, "vncprobe: -host is required")
		flag.Usage()
		os.Exit(1)
	}
	switch *depth {
	case 8, 16, 24:
	default:
		log.Fatalf("Unsupported color depth %d (want 8, 16 or 24)", *depth)
	}

	cfg := rfb.Config{
		Host:        *host,
		Port:        *port,
		Password:    *password,
		ColorDepth:  *depth,
		DialTimeout: *timeout,
		PollTimeout: 2 * time.Second,
	}

	client, err := dial(context.Background(), cfg, *retries)
	if err != nil {
		log.Fatalf("Probe failed: %v", err)
	}
	defer client.Close() //nolint:errcheck

	fmt.Printf("Connected to %s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("Display:  %q\n", client.Name())
	fmt.Printf("Geometry: %dx%d\n", client.Width(), client.Height())
	fmt.Printf("Format:   %s\n", formatString(client.Format()))

	if err := firstUpdate(client); err != nil {
		log.Fatalf("Update failed: %v", err)
	}
}

// dial connects with backoff between attempts. Network failures retry;
// authentication and protocol failures end the probe immediately.
func dial(ctx context.Context, cfg rfb.Config, retries int) (*rfb.Client, error) {
	b := &backoff.Backoff{Max: 3 * time.Second}
	for {
		client, err := rfb.Dial(ctx, cfg)
		if err == nil {
			return client, nil
		}
		var nerr *rfb.NetworkError
		if !errors.As(err, &nerr) {
			return nil, err
		}
		if int(b.Attempt()) >= retries {
			return nil, err
		}
		wait := b.Duration()
		log.Printf("Connect failed: %v; retrying in %s", err, wait)
		time.Sleep(wait)
	}
}

// firstUpdate requests one full framebuffer update and summarizes what
// came back.
func firstUpdate(client *rfb.Client) error {
	start := time.Now()
	if err := client.RequestUpdate(false); err != nil {
		return err
	}

	var images, copies, cursors, pixels int
	deadline := time.Now().Add(10 * time.Second)
	for images+copies == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("no update within 10s")
		}
		events, err := client.Poll(true)
		if err != nil {
			return err
		}
		for _, ev := range events {
			switch e := ev.(type) {
			case rfb.ImageEvent:
				images++
				b := e.Img.Bounds()
				pixels += b.Dx() * b.Dy()
			case rfb.CopyEvent:
				copies++
			case rfb.CursorEvent:
				cursors++
			}
		}
	}

	fmt.Printf("Update:   %d image rects, %d copyrects covering %d px in %s\n",
		images, copies, pixels, time.Since(start).Round(time.Millisecond))
	if cursors > 0 {
		fmt.Printf("Cursor:   server sends cursor shapes\n")
	}
	return nil
}

func formatString(f rfb.PixelFormat) string {
	endian := "little-endian"
	if f.BigEndian {
		endian = "big-endian"
	}
	return fmt.Sprintf("%d bpp, depth %d, %s, rgb max %d/%d/%d shift %d/%d/%d",
		f.BitsPerPixel, f.Depth, endian,
		f.RedMax, f.GreenMax, f.BlueMax, f.RedShift, f.GreenShift, f.BlueShift)
}
