package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockmed/blockmed/internal/ledger"
	"github.com/blockmed/blockmed/internal/qrpayload"
)

func (a *app) rxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rx",
		Aliases: []string{"prescription"},
		Short:   "Record, load and verify prescriptions",
	}
	cmd.AddCommand(
		a.rxAddCmd(),
		a.rxGetCmd(),
		a.rxVerifyCmd(),
		a.rxCountCmd(),
		a.rxHistoryCmd(),
	)
	return cmd
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid prescription ID %q", s)
	}
	return id, nil
}

func (a *app) rxAddCmd() *cobra.Command {
	var (
		patient string
		ipfs    string
		qrOut   string
		qrSize  int
		noQR    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a new prescription and print its QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			lc, closeFn, err := a.ledgerClient(ctx, sess)
			if err != nil {
				return err
			}
			defer closeFn()

			ptx, err := lc.SubmitRecord(ctx, patient, ipfs)
			if err != nil {
				return err
			}
			a.printTx(ptx)

			conf, err := ptx.Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Prescription #%d recorded in block %d\n\n", conf.RecordID, conf.BlockNumber)

			p := qrpayload.Payload{
				PrescriptionID: strconv.FormatUint(conf.RecordID, 10),
				PatientHash:    patient,
				IPFSHash:       ipfs,
			}
			return a.printQR(p, !noQR, qrOut, qrSize)
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "Patient hash")
	cmd.Flags().StringVar(&ipfs, "ipfs", "", "IPFS hash of the prescription document")
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "Write the QR code to this PNG file")
	cmd.Flags().IntVar(&qrSize, "qr-size", 256, "QR PNG size in pixels")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "Do not draw the QR code in the terminal")
	cmd.MarkFlagRequired("patient")
	cmd.MarkFlagRequired("ipfs")
	return cmd
}

func (a *app) rxGetCmd() *cobra.Command {
	var showQR bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Load a prescription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, err := a.fetch(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRecord(a.out, rec)
			if showQR {
				fmt.Fprintln(a.out)
				return a.printQR(qrpayload.FromRecord(rec), true, "", 0)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showQR, "qr", false, "Also print the record's QR code")
	return cmd
}

func (a *app) fetch(ctx context.Context, id uint64) (*ledger.Record, error) {
	lc, closeFn, err := a.ledgerClient(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return lc.FetchRecord(ctx, id)
}

func (a *app) rxVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Mark a prescription as dispensed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sess, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			lc, closeFn, err := a.ledgerClient(ctx, sess)
			if err != nil {
				return err
			}
			defer closeFn()

			ptx, err := lc.VerifyRecord(ctx, id)
			if err != nil {
				return err
			}
			a.printTx(ptx)
			conf, err := ptx.Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Prescription #%d verified in block %d\n\n", id, conf.BlockNumber)

			// Reload so the output reflects the ledger, not our expectation.
			rec, err := lc.FetchRecord(ctx, id)
			if err != nil {
				return err
			}
			printRecord(a.out, rec)
			return nil
		},
	}
}

func (a *app) rxCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Show how many prescriptions the ledger holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lc, closeFn, err := a.ledgerClient(ctx, nil)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := lc.RecordCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
}

func (a *app) rxHistoryCmd() *cobra.Command {
	var from uint64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List prescription events emitted by the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lc, closeFn, err := a.ledgerClient(ctx, nil)
			if err != nil {
				return err
			}
			defer closeFn()
			events, err := lc.History(ctx, from)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(a.out, "No events found.")
				return nil
			}
			for _, ev := range events {
				fmt.Fprintf(a.out, "block %-6d #%-4d %-8s by %s", ev.BlockNumber, ev.RecordID, ev.Kind, shortAddress(ev.Actor))
				if ev.Kind == ledger.EventAdded {
					fmt.Fprintf(a.out, "  patient=%s ipfs=%s", ev.PatientHash, ev.DocumentHash)
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "First block to scan")
	return cmd
}

func (a *app) printTx(ptx *ledger.PendingTx) {
	fmt.Fprintf(a.out, "Transaction: %s\n", ptx.Hash.Hex())
	if url := a.cfg.TxURL(ptx.Hash); url != "" {
		fmt.Fprintf(a.out, "Explorer:    %s\n", url)
	}
	fmt.Fprintln(a.out, "Waiting for confirmation...")
}

func printRecord(w io.Writer, rec *ledger.Record) {
	status := "Pending"
	if rec.Verified {
		status = "Verified"
	}
	fmt.Fprintf(w, "Prescription #%d\n", rec.ID)
	fmt.Fprintf(w, "  Patient: %s\n", rec.PatientHash)
	fmt.Fprintf(w, "  IPFS:    %s\n", rec.DocumentHash)
	fmt.Fprintf(w, "  Doctor:  %s (%s)\n", shortAddress(rec.Doctor), rec.Doctor.Hex())
	fmt.Fprintf(w, "  Issued:  %s\n", rec.Time().UTC().Format(time.RFC1123))
	fmt.Fprintf(w, "  Status:  %s\n", status)
}

// printQR prints the QR data and optionally draws it and writes a PNG.
func (a *app) printQR(p qrpayload.Payload, draw bool, pngPath string, size int) error {
	data, err := qrpayload.Encode(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "QR data: %s\n", data)
	if draw {
		art, err := qrpayload.Terminal(p)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, art)
	}
	if pngPath != "" {
		if err := qrpayload.WritePNG(p, size, pngPath); err != nil {
			return fmt.Errorf("write QR image: %w", err)
		}
		fmt.Fprintf(a.out, "QR image written to %s\n", pngPath)
	}
	return nil
}
