package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/blob"
	"github.com/sells-group/campaign-cli/internal/export"
	"github.com/sells-group/campaign-cli/internal/ingest"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/internal/validate"
	"github.com/sells-group/campaign-cli/pkg/dialer"
)

const maxUploadBytes = 32 << 20

// campaignLister is the slice of the dialer client the sync endpoint needs.
type campaignLister interface {
	ListCampaigns(ctx context.Context) ([]dialer.Campaign, error)
}

// server carries the wired pipeline for the HTTP handlers.
type server struct {
	store     store.Store
	blob      blob.Storage
	ingestor  *ingest.Ingestor
	orch      *validate.Orchestrator
	exporter  *export.Exporter
	campaigns campaignLister
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign onboarding API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		bs, err := openBlob(ctx)
		if err != nil {
			return eris.Wrap(err, "open blob storage")
		}

		dc, err := newDialerClient()
		if err != nil {
			return err
		}

		orch, err := newOrchestrator(st)
		if err != nil {
			return eris.Wrap(err, "init orchestrator")
		}

		s := &server{
			store:     st,
			blob:      bs,
			ingestor:  ingest.New(st, bs),
			orch:      orch,
			exporter:  export.New(st, dc, cfg.Store.MaxBatchSize),
			campaigns: dc,
		}

		// Fail validation jobs whose worker stopped heartbeating.
		go validate.NewSweeper(st, sweepTimeout(), sweepInterval()).Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(s),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns/{campaignID}/select", s.handleSelectCampaign)
		r.Post("/campaigns/{campaignID}/upload", s.handleUpload)
		r.Post("/campaigns/{campaignID}/validate", s.handleValidate)
		r.Post("/campaigns/{campaignID}/export", s.handleExport)
		r.Get("/campaigns/{campaignID}/file", s.handleDownloadFile)

		r.Get("/validation-jobs/{jobID}", s.handleJobStatus)
		r.Delete("/validation-jobs/{jobID}", s.handleJobCancel)

		r.Get("/ledgers", s.handleListLedgers)
		r.Get("/ledgers/{campaignID}", s.handleGetLedger)

		r.Get("/campaigns", s.handleListCampaigns)
		r.Post("/campaigns/sync", s.handleSyncCampaigns)
	})

	return r
}

// handleSelectCampaign bootstraps a campaign's ledger row when an operator
// picks it for onboarding, before any spreadsheet exists.
func (s *server) handleSelectCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	var req struct {
		CampaignName string `json:"campaignName"`
		DNC          bool   `json:"dnc"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	now := time.Now().UTC()
	patch := model.LedgerPatch{
		DNCEnabled: &req.DNC,
		SelectedAt: &now,
	}
	if req.CampaignName != "" {
		patch.CampaignName = &req.CampaignName
	}

	ledger, err := s.store.UpsertLedger(r.Context(), campaignID, patch)
	if err != nil {
		zap.L().Error("select campaign", zap.String("campaign", campaignID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to select campaign")
		return
	}

	writeJSON(w, http.StatusOK, ledger)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	path, err := saveTemp(file, header.Filename)
	if err != nil {
		zap.L().Error("save upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}
	defer os.Remove(path)

	result, err := s.ingestor.IngestSpreadsheet(r.Context(), ingest.Params{
		CampaignID:       campaignID,
		FilePath:         path,
		OriginalFileName: header.Filename,
		UploadedBy:       r.FormValue("uploadedBy"),
		DNC:              r.FormValue("dnc") == "true",
	})
	if err != nil {
		zap.L().Error("upload failed",
			zap.String("campaign", campaignID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadRequest, eris.Cause(err).Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	job, err := s.orch.Submit(r.Context(), campaignID)
	switch {
	case err == nil:
	case eris.Is(err, validate.ErrJobRunning):
		writeError(w, http.StatusConflict, "validation already running for this campaign")
		return
	case eris.Is(err, validate.ErrNoRecords):
		writeError(w, http.StatusBadRequest, "no records found for this campaign")
		return
	default:
		zap.L().Error("submit validation", zap.String("campaign", campaignID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start validation")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.orch.Status(r.Context(), jobID)
	if err != nil {
		if eris.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "validation job not found")
			return
		}
		zap.L().Error("get job", zap.String("job", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if !s.orch.Cancel(jobID) {
		writeError(w, http.StatusNotFound, "no running job with that ID")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	var req struct {
		ClearExisting bool `json:"clearExisting"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.exporter.Export(r.Context(), export.Params{
		CampaignID:    campaignID,
		ClearExisting: req.ClearExisting,
	})
	switch {
	case err == nil:
	case eris.Is(err, export.ErrNoValidatedData):
		writeError(w, http.StatusBadRequest, "no validated data found for this campaign")
		return
	case eris.Is(err, export.ErrNoContacts):
		writeError(w, http.StatusBadRequest, "no exportable contacts after filtering")
		return
	default:
		zap.L().Error("export failed", zap.String("campaign", campaignID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "dialer export failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleListLedgers(w http.ResponseWriter, r *http.Request) {
	ledgers, err := s.store.ListLedgers(r.Context())
	if err != nil {
		zap.L().Error("list ledgers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list ledgers")
		return
	}
	if r.URL.Query().Get("completed") == "true" {
		ledgers = completedLedgers(ledgers)
	} else {
		sortLedgersByUpload(ledgers)
	}
	writeJSON(w, http.StatusOK, ledgers)
}

func (s *server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	ledger, err := s.store.GetLedger(r.Context(), campaignID)
	if err != nil {
		zap.L().Error("get ledger", zap.String("campaign", campaignID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get ledger")
		return
	}
	if ledger == nil {
		writeError(w, http.StatusNotFound, "no ledger for this campaign")
		return
	}

	writeJSON(w, http.StatusOK, ledger)
}

func (s *server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListDialerCampaigns(r.Context())
	if err != nil {
		zap.L().Error("list campaigns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *server) handleSyncCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.campaigns.ListCampaigns(r.Context())
	if err != nil {
		zap.L().Error("sync campaigns", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to fetch campaigns from dialer")
		return
	}

	now := time.Now().UTC()
	cached := make([]store.DialerCampaign, 0, len(campaigns))
	for _, c := range campaigns {
		cached = append(cached, toDialerCampaign(c, now))
	}
	if err := s.store.UpsertDialerCampaigns(r.Context(), cached); err != nil {
		zap.L().Error("cache campaigns", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cache campaigns")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"synced": len(cached)})
}

// handleDownloadFile streams the campaign's archived spreadsheet back to the
// caller, named after the original upload.
func (s *server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	ledger, err := s.store.GetLedger(r.Context(), campaignID)
	if err != nil {
		zap.L().Error("get ledger", zap.String("campaign", campaignID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get ledger")
		return
	}
	if ledger == nil || ledger.FileName == nil {
		writeError(w, http.StatusNotFound, "no uploaded file for this campaign")
		return
	}

	rc, err := s.blob.Open(r.Context(), *ledger.FileName)
	if err != nil {
		zap.L().Error("open archived file",
			zap.String("campaign", campaignID),
			zap.String("file", *ledger.FileName),
			zap.Error(err),
		)
		writeError(w, http.StatusNotFound, "archived file not found")
		return
	}
	defer rc.Close()

	download := *ledger.FileName
	if ledger.OriginalFileName != nil {
		download = *ledger.OriginalFileName
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download))
	_, _ = io.Copy(w, rc)
}

// saveTemp spools a multipart upload to disk so the xlsx parser can seek it.
func saveTemp(file multipart.File, name string) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(name))
	if err != nil {
		return "", eris.Wrap(err, "create temp file")
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", eris.Wrap(err, "write temp file")
	}
	return tmp.Name(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
