// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cuxstat/pkg/cuxlink"
)

var (
	rawInput    string
	rawValidate bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display link frames in human-readable format",
	Long: `Continuously decode and display link frames as they arrive, showing each
frame with timestamp, message type, sequence number and decoded payload.

Frames are read from the bridge (--port or --url) or from a capture file
(--input, "-" for stdin). With --validate, each response is checked against
the request that carried the same sequence number, which needs a capture of
both directions.`,
	RunE: runRawLog,
}

func init() {
	rawLogCmd.Flags().StringVarP(&rawInput, "input", "i", "", "Read a capture file instead of the live link")
	rawLogCmd.Flags().BoolVar(&rawValidate, "validate", false, "Check responses against their requests")
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	src, info, err := openRawSource()
	if err != nil {
		return err
	}
	defer src.Close()

	fmt.Printf("cuxstat - Raw Frame Log\n")
	fmt.Printf("Source: %s\n", info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	n, anomalies, err := logFrames(src, os.Stdout, rawValidate)
	fmt.Printf("\n--- %d frames, %d anomalies ---\n", n, anomalies)
	return err
}

// openRawSource opens the capture file or the live link
func openRawSource() (io.ReadCloser, string, error) {
	switch rawInput {
	case "":
	case "-":
		return io.NopCloser(os.Stdin), "stdin", nil
	default:
		f, err := os.Open(rawInput)
		if err != nil {
			return nil, "", err
		}
		return f, "file: " + rawInput, nil
	}

	if simulate {
		return nil, "", errors.New("raw_log needs a bridge or --input; --simulate has no link")
	}
	open, device, err := linkOpener()
	if err != nil {
		return nil, "", err
	}
	conn, err := open(device)
	if err != nil {
		return nil, "", err
	}
	return conn, device, nil
}

// logFrames decodes frames from r and writes them to w until r is
// exhausted or closed. It returns the frame and anomaly counts.
func logFrames(r io.Reader, w io.Writer, validate bool) (frames, anomalies int, err error) {
	decoder := cuxlink.NewDecoder()
	pending := make(map[uint16]uint8)
	buf := make([]byte, 256)

	for {
		n, rerr := r.Read(buf)
		for i := 0; i < n; i++ {
			packet, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				fmt.Fprintf(w, "[ERROR] %v\n", derr)
				anomalies++
				continue
			}
			if packet == nil {
				continue
			}
			frames++
			fmt.Fprint(w, cuxlink.FormatPacket(packet))
			if validate {
				anomalies += checkFrame(w, packet, pending)
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, cuxlink.ErrConnectionClosed) {
				return frames, anomalies, nil
			}
			return frames, anomalies, rerr
		}
	}
}

// checkFrame records requests and validates responses against them
func checkFrame(w io.Writer, p *cuxlink.Packet, pending map[uint16]uint8) int {
	switch {
	case cuxlink.IsRequest(p.Type()):
		pending[p.Seq()] = p.Type()
		return 0
	case cuxlink.IsError(p.Type()):
		delete(pending, p.Seq())
		return 0
	}

	req, ok := pending[p.Seq()]
	if !ok {
		fmt.Fprintf(w, "  !! %s with no matching request (seq=%d)\n", cuxlink.FormatMessageType(p.Type()), p.Seq())
		return 1
	}
	delete(pending, p.Seq())

	errs := cuxlink.ValidateResponse(req, p)
	for _, e := range errs {
		fmt.Fprintf(w, "  !! %s\n", e.Error())
	}
	return len(errs)
}
