package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/nanaosei/cropdoc"
	"github.com/nanaosei/cropdoc/crop"
	"github.com/nanaosei/cropdoc/internal/artifact"
	"github.com/nanaosei/cropdoc/internal/classify"
	"github.com/nanaosei/cropdoc/internal/registry"

	"github.com/schollz/progressbar/v3"
)

var (
	dbPath      = flag.String("db", "./cropdoc.db", "Path to classification history database")
	modelsDir   = flag.String("models", "./models", "Directory holding best_<crop>_model.onnx weights")
	modelsURL   = flag.String("models-url", "", "Base URL to download weights from instead of -models")
	cacheDir    = flag.String("cache", filepath.Join(os.TempDir(), "cropdoc-models"), "Local cache for downloaded weights")
	port        = flag.String("port", envOr("PORT", "8080"), "HTTP listen port")
	llamaServer = flag.String("llama", "", "Address of a local llama server for advice, typically http://localhost:8080")
	llamaSeed   = flag.Int("seed", 385480504, "Random seed to llama")

	scanDir    = flag.String("dir", "", "Classify every image in this directory instead of serving")
	scanCrop   = flag.String("crop", "", "Crop type for -dir mode")
	withAdvice = flag.Bool("advice", false, "Generate AI advice in -dir mode")
	count      = flag.Int("count", -1, "Number of images to process in -dir mode")

	lameduck bool
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func findImageFiles(root string) ([]string, error) {
	var images []string

	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
			images = append(images, path)
		}

		return nil
	})

	return images, err
}

func weightsStore() registry.Store {
	if *modelsURL != "" {
		return &artifact.Bucket{
			BaseURL:  strings.TrimRight(*modelsURL, "/"),
			CacheDir: *cacheDir,
			Client:   &http.Client{Timeout: 5 * time.Minute},
		}
	}
	return artifact.Dir{Root: *modelsDir}
}

// scanDirectory classifies every image file under dir for one crop,
// recording results to the history database.
func scanDirectory(ctx context.Context, cd *cropdoc.Cropdoc, db *cropdoc.DB, reg *registry.Registry, dir string) error {
	ct, err := crop.Parse(*scanCrop)
	if err != nil {
		return fmt.Errorf("-crop: %w", err)
	}

	images, err := findImageFiles(dir)
	if err != nil {
		return err
	}
	fmt.Printf("Found %d images on disk\n", len(images))

	if *count > -1 {
		images = images[:min(len(images), *count)]
	}

	bar := progressbar.Default(int64(len(images)))
	errcnt := 0
out:
	for _, path := range images {
		if lameduck {
			break
		}
		select {
		case <-ctx.Done():
			break out
		default:
		}

		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("\nfile error, skipping: %s\n", err)
			errcnt++
			continue
		}

		pred, err := classify.Classify(reg, data, ct)
		if err != nil {
			fmt.Printf("\n%s: %s\n", path, err)
			errcnt++
			if errcnt >= 5 {
				return fmt.Errorf("too many errors, exiting")
			}
			bar.Add(1)
			continue
		}

		rec := &cropdoc.Record{
			CropType:         string(pred.CropType),
			PredictedDisease: pred.PredictedDisease,
			Confidence:       pred.Confidence,
			IsHealthy:        pred.IsHealthy,
			Description:      pred.Description,
			Filename:         filepath.Base(path),
			FileSize:         int64(len(data)),
		}
		if *withAdvice {
			rec.Advice = marshalAdvice(ctx, cd, pred)
		}
		if err := db.InsertRecord(ctx, rec); err != nil {
			return err
		}
		bar.Add(1)
	}

	return nil
}

func run(ctx context.Context, cd *cropdoc.Cropdoc) error {
	db, err := cropdoc.NewDB(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store := weightsStore()

	if *scanDir != "" {
		reg, err := registry.Load(ctx, store, registry.ONNXLoader{})
		if err != nil {
			return err
		}
		defer reg.Close()
		return scanDirectory(ctx, cd, db, reg, *scanDir)
	}

	srv := NewServer(cd, db, *port)

	// Models load in the background so the server can answer health checks
	// and fail classification requests fast while loading. A load failure
	// is fatal: the service never runs partially ready.
	go func() {
		reg, err := registry.Load(ctx, store, registry.ONNXLoader{})
		if err != nil {
			log.Fatalf("Failed to load models: %v", err)
		}
		srv.SetRegistry(reg)
		log.Printf("Serving classifications for: %v", crop.Types())
	}()

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Printf("Server starting on port %s", *port)
	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		<-ch
		if lameduck {
			// Already in lame duck, hard stop
			fmt.Println("Exiting")
			cancel()
			return
		} else {
			fmt.Println("SIGINT received, stopping...")
			lameduck = true
			cancel()
		}
	}
}

func main() {
	flag.Parse()

	if *scanDir != "" && *scanCrop == "" {
		flag.Usage()
		os.Exit(1)
	}

	cio := cropdoc.InitOptions{
		GroqAPIKey:  os.Getenv("GROQ_API_KEY"),
		LlamaServer: *llamaServer,
		LlamaSeed:   *llamaSeed,
		HttpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	cd, err := cropdoc.Init(cio)
	if err != nil {
		log.Fatal(err)
	}

	if cd.Completer == nil {
		log.Print("No advice backend configured, AI advice will use canned fallback")
	}

	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	go sighandler(sigch, cancel)

	if err := run(ctx, cd); err != nil {
		log.Fatal(err)
	}
}
