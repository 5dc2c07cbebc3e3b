package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockmed/blockmed/internal/qrpayload"
)

func (a *app) qrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Encode and decode prescription QR payloads",
	}
	cmd.AddCommand(a.qrEncodeCmd(), a.qrDecodeCmd())
	return cmd
}

func (a *app) qrEncodeCmd() *cobra.Command {
	var (
		p    qrpayload.Payload
		out  string
		size int
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build the QR payload for a prescription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printQR(p, true, out, size)
		},
	}
	cmd.Flags().StringVar(&p.PrescriptionID, "id", "", "Prescription ID")
	cmd.Flags().StringVar(&p.PatientHash, "patient", "", "Patient hash")
	cmd.Flags().StringVar(&p.IPFSHash, "ipfs", "", "IPFS hash")
	cmd.Flags().StringVar(&out, "out", "", "Write the QR code to this PNG file")
	cmd.Flags().IntVar(&size, "size", 256, "PNG size in pixels")
	return cmd
}

func (a *app) qrDecodeCmd() *cobra.Command {
	var load bool
	cmd := &cobra.Command{
		Use:   "decode [payload|-]",
		Short: "Decode a scanned QR payload (reads stdin when omitted or -)",
		Long: `Decode a scanned QR payload.

With --load the prescription is fetched from the ledger and compared with
the scanned hashes, which is what a pharmacy does before dispensing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 1 && args[0] != "-" {
				raw = args[0]
			} else {
				b, err := io.ReadAll(a.in)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				raw = string(b)
			}

			p, err := qrpayload.Decode(raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Prescription ID: %s\n", p.PrescriptionID)
			fmt.Fprintf(a.out, "Patient hash:    %s\n", p.PatientHash)
			fmt.Fprintf(a.out, "IPFS hash:       %s\n", p.IPFSHash)
			if !load {
				return nil
			}

			id, err := p.RecordID()
			if err != nil {
				return err
			}
			rec, err := a.fetch(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out)
			printRecord(a.out, rec)

			var mismatch []string
			if rec.PatientHash != p.PatientHash {
				mismatch = append(mismatch, "patient hash")
			}
			if rec.DocumentHash != p.IPFSHash {
				mismatch = append(mismatch, "IPFS hash")
			}
			if len(mismatch) > 0 {
				return errors.New("QR code does not match the ledger record: " + strings.Join(mismatch, " and ") + " differ")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&load, "load", false, "Fetch the prescription from the ledger and check it")
	return cmd
}
