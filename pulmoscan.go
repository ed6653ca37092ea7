// Package pulmoscan is a client for a chest-imaging prediction service.
//
// A user picks a diagnostic task, selects an image and asks the remote
// service for a prediction, optionally with Grad-CAM explanation images. The
// package validates the upload, normalizes the different response shapes the
// service has used over time and keeps the visible state consistent when
// submissions overlap or the task changes mid-flight.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/pulmoscan"
//		"github.com/menta2k/pulmoscan/pkg/types"
//	)
//
//	func main() {
//		opts := pulmoscan.DefaultOptions()
//		opts.BaseURL = "http://localhost:8000/api"
//
//		p, err := pulmoscan.New(opts)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer p.Close()
//
//		snap, err := p.PredictFile(context.Background(), types.TaskPneumonia, "xray.png", true)
//		if err != nil {
//			log.Fatal(err)
//		}
//		for _, row := range snap.Rows {
//			fmt.Printf("%s %s\n", row.Class, row.Text)
//		}
//	}
//
// The package consists of these components:
//
// 1. Intake (pkg/intake): validates uploads and owns the preview handle
// 2. Normalizer (pkg/normalizer): turns any payload shape into one response
// 3. Explain (pkg/explain): picks the explanation image for the view mode
// 4. Display (pkg/display): probability rows for presentation
// 5. Workflow (pkg/workflow): the state machine tying them together
// 6. Predictsvc (pkg/predictsvc): HTTP transport with throttling, retries,
// a circuit breaker and a response cache
package pulmoscan

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/pulmoscan/pkg/client"
	"github.com/menta2k/pulmoscan/pkg/intake"
	"github.com/menta2k/pulmoscan/pkg/predictsvc"
	"github.com/menta2k/pulmoscan/pkg/types"
	"github.com/menta2k/pulmoscan/pkg/workflow"
)

// Version of the pulmoscan client library
const Version = "1.0.0"

// Options configures a Predictor
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	InitialTask types.DiseaseTask
	Intake      intake.Config
	Resilience  predictsvc.ResilienceConfig
	// CacheSize of 0 disables the response cache
	CacheSize  int
	HTTPClient *http.Client
	Logger     *logrus.Logger
	OnChange   func(workflow.Snapshot)

	// Client replaces the HTTP transport entirely, e.g. in tests
	Client client.PredictionClient
}

// DefaultOptions returns options for a local service
func DefaultOptions() Options {
	return Options{
		BaseURL:     predictsvc.DefaultBaseURL,
		Timeout:     workflow.DefaultTimeout,
		InitialTask: types.DefaultTask,
		Intake:      intake.DefaultConfig(),
		Resilience:  predictsvc.DefaultResilienceConfig(),
		CacheSize:   64,
	}
}

// Predictor provides a high-level interface over the prediction workflow
type Predictor struct {
	workflow *workflow.Orchestrator
	intake   *intake.Intake
	cache    *predictsvc.Cache
	logger   *logrus.Logger
}

// New wires the transport stack and the workflow from opts
func New(opts Options) (*Predictor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}

	var c client.PredictionClient
	if opts.Client != nil {
		c = opts.Client
	} else {
		httpOpts := []predictsvc.Option{predictsvc.WithLogger(logger)}
		if opts.HTTPClient != nil {
			httpOpts = append(httpOpts, predictsvc.WithHTTPClient(opts.HTTPClient))
		}
		hc, err := predictsvc.NewClient(opts.BaseURL, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create prediction client: %w", err)
		}
		c = predictsvc.NewResilient(hc, opts.Resilience, logger)
	}

	p := &Predictor{logger: logger}
	if opts.CacheSize > 0 {
		cache, err := predictsvc.NewCache(c, opts.CacheSize, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create response cache: %w", err)
		}
		p.cache = cache
		c = cache
	}

	p.intake = intake.New(opts.Intake, logger)

	wfOpts := []workflow.Option{workflow.WithLogger(logger)}
	if opts.OnChange != nil {
		wfOpts = append(wfOpts, workflow.WithOnChange(opts.OnChange))
	}
	p.workflow = workflow.New(c, p.intake, workflow.Config{
		Timeout:     opts.Timeout,
		InitialTask: opts.InitialTask,
	}, wfOpts...)
	return p, nil
}

// Workflow exposes the underlying state machine
func (p *Predictor) Workflow() *workflow.Orchestrator {
	return p.workflow
}

// Previews exposes the preview handle registry
func (p *Predictor) Previews() *intake.PreviewRegistry {
	return p.intake.Registry()
}

// PredictFile is a convenience that selects task and file, submits and
// waits for the outcome. The returned snapshot is the settled state.
func (p *Predictor) PredictFile(ctx context.Context, task types.DiseaseTask, path string, explain bool) (workflow.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("failed to read image: %w", err)
	}
	return p.PredictBytes(ctx, task, intake.SniffFile(filepath.Base(path), data), explain)
}

// PredictBytes is PredictFile for an in-memory file
func (p *Predictor) PredictBytes(ctx context.Context, task types.DiseaseTask, f types.File, explain bool) (workflow.Snapshot, error) {
	if task != p.workflow.Task() {
		if err := p.workflow.SelectTask(task); err != nil {
			return workflow.Snapshot{}, err
		}
	}
	if err := p.workflow.SelectFile(f); err != nil {
		return p.workflow.Snapshot(), err
	}

	sub, err := p.workflow.Submit(ctx, explain)
	if err != nil {
		return p.workflow.Snapshot(), err
	}
	out, err := sub.Wait(ctx)
	if err != nil {
		return p.workflow.Snapshot(), err
	}
	snap := p.workflow.Snapshot()
	if !out.Applied {
		return snap, fmt.Errorf("prediction superseded by a newer action")
	}
	return snap, out.Err
}

// PurgeCache drops cached responses
func (p *Predictor) PurgeCache() {
	if p.cache != nil {
		p.cache.Purge()
	}
}

// Close tears the workflow down and releases the preview
func (p *Predictor) Close() error {
	return p.workflow.Close()
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
