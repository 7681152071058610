// Package dashboard serves a local HTTP status API over the sync engine:
// current connectivity and sync state, transcripts, the offline queue, and
// a server-sent-events stream of state transitions.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digitalopd/opd/internal/models"
	"github.com/digitalopd/opd/internal/store"
	"github.com/digitalopd/opd/internal/syncer"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Store        *store.Store
	Orchestrator *syncer.Orchestrator
	Port         int
	Out          io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Store == nil {
		return fmt.Errorf("dashboard: store is required")
	}
	if opts.Orchestrator == nil {
		return fmt.Errorf("dashboard: orchestrator is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	router := newRouter(opts.Store, opts.Orchestrator)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the Gin router with all API routes registered.
func newRouter(st *store.Store, orc *syncer.Orchestrator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/state", handleState(orc))
	router.GET("/api/cases", handleCases(st))
	router.GET("/api/sessions/:patientID", handleSession(st))
	router.GET("/api/messages/:patientID", handleMessages(st))
	router.GET("/api/queue", handleQueue(st))
	router.POST("/api/sync/retry", handleRetry(orc))
	router.GET("/api/events", handleSSE(orc))

	return router
}

func handleState(orc *syncer.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, orc.Snapshot())
	}
}

// caseView is a PatientCase with the patient document decoded for clients.
type caseView struct {
	ID               string         `json:"id"`
	Patient          models.Patient `json:"patient"`
	CorrectTest      string         `json:"correct_test"`
	CorrectDiagnosis string         `json:"correct_diagnosis"`
}

func handleCases(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cases, err := st.PatientCases()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views := make([]caseView, 0, len(cases))
		for _, pc := range cases {
			p, err := pc.Patient()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			views = append(views, caseView{
				ID:               pc.ID,
				Patient:          p,
				CorrectTest:      pc.CorrectTest,
				CorrectDiagnosis: pc.CorrectDiagnosis,
			})
		}
		c.JSON(http.StatusOK, views)
	}
}

func handleSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := st.SessionByPatient(c.Param("patientID"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if session == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for patient"})
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func handleMessages(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := st.Messages(c.Param("patientID"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

func handleQueue(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		pending, err := st.PendingActions()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"count":   len(pending),
			"pending": pending,
		})
	}
}

func handleRetry(orc *syncer.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		orc.RetrySync()
		c.JSON(http.StatusAccepted, gin.H{"status": "retry scheduled"})
	}
}
