// cmd/importer loads CSV price history into the scanner's SQLite store.
//
// Usage:
//
//	go run ./cmd/importer --db=data/scanner.db --dir=prices --instruments=prices/instruments.csv --class=stock
//
// Every <id>.csv file in --dir becomes the series of instrument <id>.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"trading-scanner/internal/ingest"
	"trading-scanner/internal/logger"
	"trading-scanner/internal/model"
	sqlitestore "trading-scanner/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/scanner.db", "Path to SQLite database")
	dir := flag.String("dir", "", "Directory of <id>.csv price files")
	listPath := flag.String("instruments", "", "Optional id,name,asset_class list")
	class := flag.String("class", "stock", "Asset class for instruments without one")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log := logger.Init("importer", logger.ParseLevel(*level), "text")
	if *dir == "" {
		log.Error("--dir is required")
		os.Exit(2)
	}
	if err := run(context.Background(), log, *dbPath, *dir, *listPath, *class); err != nil {
		log.Error("import failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, dbPath, dir, listPath, class string) error {
	if d := filepath.Dir(dbPath); d != "." {
		os.MkdirAll(d, 0o755)
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath}, log)
	if err != nil {
		return err
	}
	defer w.Close()

	known := map[string]model.Instrument{}
	if listPath != "" {
		f, err := os.Open(listPath)
		if err != nil {
			return err
		}
		list, err := ingest.ReadInstruments(f, class)
		f.Close()
		if err != nil {
			return err
		}
		for _, in := range list {
			known[in.ID] = in
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return err
	}
	var (
		instruments []model.Instrument
		rows        int
	)
	for _, path := range files {
		if listPath != "" && filepath.Clean(path) == filepath.Clean(listPath) {
			continue
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		s, err := readFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := w.WriteSeries(ctx, id, s); err != nil {
			return err
		}
		in, ok := known[id]
		if !ok {
			in = model.Instrument{ID: id, AssetClass: class}
		}
		instruments = append(instruments, in)
		rows += s.Len()
		log.Debug("series imported", slog.String("instrument", id), slog.Int("rows", s.Len()))
	}

	if err := w.UpsertInstruments(ctx, instruments); err != nil {
		return err
	}
	log.Info("import complete", slog.Int("instruments", len(instruments)), slog.Int("rows", rows))
	return nil
}

func readFile(path string) (*model.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ingest.ReadSeries(f)
}
