package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan"
	"github.com/menta2k/pulmoscan/internal/config"
	"github.com/menta2k/pulmoscan/internal/logging"
	"github.com/menta2k/pulmoscan/internal/utils"
	"github.com/menta2k/pulmoscan/pkg/display"
	"github.com/menta2k/pulmoscan/pkg/explain"
	"github.com/menta2k/pulmoscan/pkg/processing"
	"github.com/menta2k/pulmoscan/pkg/types"
	"github.com/menta2k/pulmoscan/pkg/workflow"
)

func main() {
	var in, outDir, taskName, view, url, ext, configPath string
	var explainFlag bool
	var timeout time.Duration
	var quality int

	flag.StringVar(&in, "in", "", "input image path (jpg/png/webp/gif)")
	flag.StringVar(&taskName, "task", string(types.DefaultTask), "task: pneumonia|tuberculosis|lung_cancer (aliases: tb, lung-cancer)")
	flag.BoolVar(&explainFlag, "explain", false, "request Grad-CAM explanation images")
	flag.StringVar(&view, "view", string(types.DefaultViewMode), "explanation view to report: original|overlay|heatmap")
	flag.StringVar(&url, "url", "", "prediction service base URL (overrides config)")
	flag.DurationVar(&timeout, "timeout", 0, "per-request timeout (overrides config)")
	flag.StringVar(&configPath, "config", "", "config file (json or yaml)")
	flag.StringVar(&outDir, "out", "", "directory for explanation images and the response JSON")
	flag.StringVar(&ext, "ext", "png", "output format for explanation images: png|jpg|webp")
	flag.IntVar(&quality, "quality", 92, "JPEG/WebP quality for explanation images (1-100)")
	flag.Parse()

	if in == "" {
		log.Fatalf("usage: %s -in xray.png [-task pneumonia|tuberculosis|lung_cancer] [-explain] [-view overlay] [-out outdir] [-ext png|jpg|webp]", filepath.Base(os.Args[0]))
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if url != "" {
		cfg.Service.BaseURL = url
	}
	if timeout > 0 {
		cfg.Service.Timeout = timeout
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.New(cfg.Logging)

	task, err := types.ParseTask(taskName)
	if err != nil {
		logger.Fatal(err)
	}
	mode := types.ViewMode(view)
	if !mode.Valid() {
		logger.Fatalf("unknown view %q", view)
	}
	format, err := utils.NormalizeFormat(ext)
	if err != nil {
		logger.Fatal(err)
	}

	opts := pulmoscan.DefaultOptions()
	opts.BaseURL = cfg.Service.BaseURL
	opts.Timeout = cfg.Service.Timeout
	opts.InitialTask = task
	opts.Intake = cfg.IntakeSettings()
	opts.Resilience = cfg.ResilienceSettings()
	opts.CacheSize = 0
	if cfg.Cache.Enabled {
		opts.CacheSize = cfg.Cache.Size
	}
	opts.Logger = logger
	opts.OnChange = func(s workflow.Snapshot) {
		logger.WithFields(logrus.Fields{"phase": s.Phase, "generation": s.Generation}).Debug("state changed")
	}

	p, err := pulmoscan.New(opts)
	if err != nil {
		logger.Fatal(err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := p.PredictFile(ctx, task, in, explainFlag)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			logger.Fatal(utils.DescribeValidation(verr))
		}
		logger.Fatalf("prediction failed: %v", err)
	}

	r := snap.Result
	info := task.Info()
	fmt.Printf("%s: %s (%s)\n", info.Title, r.Label, display.Confidence(r))
	for _, row := range snap.Rows {
		fmt.Printf("  %-16s %8s\n", row.Class, row.Text)
	}
	for _, w := range r.Warnings {
		logger.Warn(w)
	}

	if explainFlag {
		if !snap.HasExplainability {
			fmt.Println("explainability not available for this result")
		} else if err := p.Workflow().SetView(mode); err != nil {
			logger.Warnf("view %s: %v", mode, err)
		} else if src := p.Workflow().Snapshot().ExplainSource; src == "" {
			fmt.Printf("view %s: no image in this response\n", mode)
		} else {
			fmt.Printf("view %s: %d bytes of base64 image data\n", mode, len(src))
		}
	}

	if outDir == "" {
		return
	}
	if err := utils.EnsureDir(outDir); err != nil {
		logger.Fatal(err)
	}
	if snap.HasExplainability {
		writeExplanations(logger, in, outDir, task, r.Explain, format, quality)
	}

	js, _ := json.MarshalIndent(r, "", "  ")
	jsonPath := filepath.Join(outDir, "prediction.json")
	if err := os.WriteFile(jsonPath, js, 0o644); err != nil {
		logger.Errorf("write %s failed: %v", jsonPath, err)
	}
}

func writeExplanations(logger *logrus.Logger, in, outDir string, task types.DiseaseTask, e *types.Explanation, format string, quality int) {
	processor := processing.NewProcessor()
	for _, m := range types.ViewModes() {
		src := explain.Resolve(e, m)
		if src == "" {
			continue
		}
		img, err := processor.DecodeBase64(src)
		if err != nil {
			logger.Warnf("decode %s image failed: %v", m, err)
			continue
		}
		path := utils.ExplanationFilename(in, outDir, task, m, format)
		if err := processor.SaveImage(img, path, format, quality, false); err != nil {
			logger.Errorf("save %s failed: %v", path, err)
			continue
		}
		logger.Infof("wrote %s", path)
	}
}
