package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

var engineLog *log.Logger

// runTimeout bounds one full store or diagnostics run end to end.
const runTimeout = 3 * time.Minute

type moduleLogger struct {
	logger *log.Logger
}

func (m *moduleLogger) Log(format string, args ...any) {
	m.logger.Printf("      "+format, args...)
}

func main() {
	logFile := setupLogging()
	defer logFile.Close()

	_ = godotenv.Load()

	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 1
	}

	switch os.Args[1] {
	case "store":
		if len(os.Args) < 3 {
			usage()
			return 1
		}
		return runStore(os.Args[2])
	case "diag":
		if len(os.Args) < 3 {
			usage()
			return 1
		}
		return runDiag(os.Args[2])
	case "serve":
		addr := GetListenAddr()
		if len(os.Args) >= 3 {
			addr = os.Args[2]
		}
		return runServe(addr)
	default:
		usage()
		return 1
	}
}

func usage() {
	engineLog.Print("Usage: valstore <command> [args]\n" +
		"  valstore store <discord-user-id>   fetch and print the user's daily store\n" +
		"  valstore diag <discord-user-id>    sweep the reauth matrix and explain failures\n" +
		"  valstore serve [addr]              run the cookie capture endpoint\n")
}

func setupLogging() *os.File {
	logFile, err := os.OpenFile("valstore.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	engineLog = log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)
	return logFile
}

// buildStoreClient wires the configured credential sources. The database is
// optional; runs degrade to the flat-file store when no DSN is configured.
func buildStoreClient(ctx context.Context, logger Logger) (*StoreClient, func()) {
	cleanup := func() {}

	var primary CredentialSource
	if dsn := GetDatabaseURL(); dsn != "" {
		dbStore, err := NewDBStore(ctx, dsn, GetCookieEncKey(), logger)
		if err != nil {
			engineLog.Printf("database store unavailable: %v", err)
		} else {
			primary = dbStore
			cleanup = dbStore.Close
		}
	} else {
		engineLog.Print("DATABASE_URL not set; using flat-file store only")
	}

	legacy := NewFileStore(GetCookieDirOverride(), logger)

	client := NewStoreClient(primary, legacy, logger)
	client.SetLanguage(GetStoreLanguage())
	if raw := GetProxyURL(); raw != "" {
		if proxyURL, display, ok := normalizeProxyLine(raw); ok {
			client.SetProxyURL(proxyURL)
			engineLog.Printf("provider traffic via proxy %s", display)
		} else {
			engineLog.Print("RIOT_PROXY_URL is set but unparseable; going direct")
		}
	}
	return client, cleanup
}

func runStore(userID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	client, cleanup := buildStoreClient(ctx, &moduleLogger{logger: engineLog})
	defer cleanup()

	store, err := client.FetchDailyStore(ctx, userID)
	if err != nil {
		engineLog.Printf("store run failed: %v", err)
		if hint := UserHint(err); hint != "" {
			engineLog.Printf("hint: %s", hint)
		}
		return 1
	}

	printDailyStore(store)
	return 0
}

func printDailyStore(store *DailyStore) {
	engineLog.Printf("=== Daily store for %s (shard %s) ===", maskValue(store.PUUID), store.Shard)
	if store.GameName != "" {
		engineLog.Printf("player: %s#%s  %s", store.GameName, store.TagLine, store.TrackerURL)
	}
	for i, item := range store.Items {
		price := "price unknown"
		if item.PriceKnown {
			price = fmt.Sprintf("%d VP", item.Price)
		}
		engineLog.Printf("[%d/%d] %s (%s)", i+1, len(store.Items), item.Name, price)
	}
	engineLog.Printf("resets in %s", store.ResetsIn.Round(time.Second))
}

func runDiag(userID string) int {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	client, cleanup := buildStoreClient(ctx, &moduleLogger{logger: engineLog})
	defer cleanup()

	report, err := client.RunDiagnostics(ctx, userID)
	if err != nil {
		engineLog.Printf("diagnostics failed: %v", err)
		if hint := UserHint(err); hint != "" {
			engineLog.Printf("hint: %s", hint)
		}
		return 1
	}

	// The report is already masked; print it unprefixed for easy pasting.
	fmt.Print(report.Render())
	return 0
}

func runServe(addr string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dsn := GetDatabaseURL()
	if dsn == "" {
		engineLog.Print("serve requires DATABASE_URL")
		return 1
	}

	logger := &moduleLogger{logger: engineLog}
	dbStore, err := NewDBStore(ctx, dsn, GetCookieEncKey(), logger)
	if err != nil {
		engineLog.Printf("database store unavailable: %v", err)
		return 1
	}
	defer dbStore.Close()

	server := NewCaptureServer(dbStore, logger)
	engineLog.Printf("capture endpoint listening on %s", addr)
	if err := server.ListenAndServe(addr); err != nil {
		engineLog.Printf("capture endpoint stopped: %v", err)
		return 1
	}
	return 0
}
