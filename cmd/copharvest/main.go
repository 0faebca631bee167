package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"copharvest/internal"
	"copharvest/internal/config"
	"copharvest/internal/connectors"
	gmailconnector "copharvest/internal/connectors/gmail"
	imapconnector "copharvest/internal/connectors/imap"
	"copharvest/internal/logging"
	"copharvest/internal/pipeline"
	"copharvest/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logging.New(cfg)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	cmd := os.Args[1]
	switch cmd {
	case "scrape":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		query := fs.String("query", cfg.MailQuery, "mailbox search query")
		max := fs.Int("max", cfg.MailMaxResults, "max messages to fetch")
		reprocess := fs.Bool("reprocess", false, fmt.Sprintf("ignore watermark; re-fetch last %d days", cfg.MailDaysBack))
		full := fs.Bool("full", false, "ignore watermark; fetch the whole query window")
		provider := fs.String("provider", cfg.MailProvider, "gmail|imap")
		_ = fs.Parse(os.Args[2:])

		conn, err := makeConnector(cfg, *provider)
		must(err)
		defer conn.Close()

		svc := pipeline.NewExtractService(db, conn, log)
		result, err := svc.Run(pipeline.ExtractOptions{
			Query:      *query,
			MaxResults: *max,
			Mode:       fetchMode(*reprocess, *full),
			DaysBack:   cfg.MailDaysBack,
		})
		must(err)
		fmt.Printf("scrape done searched=%d fetched=%d stored=%d fetchFailed=%d\n",
			result.Counts.Searched, result.Counts.Fetched, result.Counts.Stored, result.Counts.FetchFailed)
	case "parse":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		reparse := fs.Bool("reparse", false, "re-parse all stored bodies, already-parsed included")
		messageID := fs.String("messageId", "", "parse one specific message id")
		batch := fs.Int("batch", 0, "max emails to parse (0 = no limit)")
		_ = fs.Parse(os.Args[2:])

		svc := pipeline.NewParseService(db, log)
		var result pipeline.ParseResult
		switch {
		case strings.TrimSpace(*messageID) != "":
			result, err = svc.ParseMessages([]string{*messageID})
		case *reparse:
			result, err = svc.ParseAll(*batch)
		default:
			result, err = svc.ParsePending(*batch)
		}
		must(err)
		fmt.Printf("parse done parsed=%d failures=%d\n", result.Parsed, result.Failures)
	case "run":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		query := fs.String("query", cfg.MailQuery, "mailbox search query")
		max := fs.Int("max", cfg.MailMaxResults, "max messages to fetch")
		reprocess := fs.Bool("reprocess", false, fmt.Sprintf("ignore watermark; re-fetch last %d days and re-parse", cfg.MailDaysBack))
		provider := fs.String("provider", cfg.MailProvider, "gmail|imap")
		_ = fs.Parse(os.Args[2:])

		conn, err := makeConnector(cfg, *provider)
		must(err)
		defer conn.Close()

		counts, err := pipeline.RunPipeline(db, conn, log, pipeline.ExtractOptions{
			Query:      *query,
			MaxResults: *max,
			Mode:       fetchMode(*reprocess, false),
			DaysBack:   cfg.MailDaysBack,
		})
		must(err)
		fmt.Printf("run done stored=%d parsed=%d parseFailures=%d\n", counts.Stored, counts.Parsed, counts.ParseFailures)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		limit := fs.Int("limit", 0, "max rows to export (0 = all)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}

		rows, err := db.ReportRows(*limit)
		must(err)
		must(pipeline.ExportReportXLSX(rows, *out))
		fmt.Printf("exported %d rows to %s\n", len(rows), *out)
	default:
		usage()
		os.Exit(1)
	}
}

func fetchMode(reprocess, full bool) internal.FetchMode {
	switch {
	case reprocess:
		return internal.ModeReprocessWindow
	case full:
		return internal.ModeFullWindow
	default:
		return internal.ModeIncremental
	}
}

func makeConnector(cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func usage() {
	fmt.Println("usage: copharvest <command>")
	fmt.Println("commands:")
	fmt.Println("  scrape [--query=...] [--max=500] [--reprocess] [--full] [--provider=gmail|imap]")
	fmt.Println("  parse [--reparse] [--messageId=...] [--batch=0]")
	fmt.Println("  run [--query=...] [--max=500] [--reprocess] [--provider=gmail|imap]")
	fmt.Println("  export:xlsx --out=./out/cop_records.xlsx [--limit=0]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
