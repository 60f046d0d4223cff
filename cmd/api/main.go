package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/aggregate"
	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/cloudinary"
	"classtrack/internal/config"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/matchclient"
	"classtrack/internal/queue"
	"classtrack/internal/reconcile"
	"classtrack/internal/session"
	"classtrack/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if db == nil {
		// Open only fails on an unusable DSN; there is no handle to limp
		// along with.
		return fmt.Errorf("db open failed: %w", err)
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		q = queue.NewInMemory(64)
	case "kafka":
		q = queue.NewKafkaQueue(cfg.KafkaBrokers, "classtrack.marks", "classtrack-api")
	default:
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:marks")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo)
	lectures := session.NewStore(db.Client, redisClient.Client)
	matcher := matchclient.New(cfg.MatchServiceURL, cfg.MatchSkip, cfg.MatchTimeout)
	ctx := context.Background()

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role != auth.RoleStudent && req.Role != auth.RoleTeacher && req.Role != auth.RoleMentor {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
			return
		}

		tokens, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.Subject, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// The capture kiosk polls this without credentials, like the wall-mounted
	// tablet it runs on.
	r.GET("/v1/lectures/current", func(c *gin.Context) {
		lec, err := lectures.Current(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"lecture": lec})
	})

	// Callback from the match service once a face resolves to a roll number.
	// Runs on the internal network, same trust level as the kiosk poll above.
	r.POST("/v1/attendance/face", func(c *gin.Context) {
		var req struct {
			RollNo string `json:"rollNo" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
			return
		}

		lec, err := lectures.Current(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
			return
		}
		if lec == nil {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "No active lecture. Ask teacher to start a lecture."})
			return
		}

		mark, err := svc.MarkPresentByFace(c.Request.Context(), req.RollNo, lec.LectureNumber, lec.Date, lec.Subject)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
			return
		}
		if mark.Fresh {
			_ = lectures.AddAttendee(c.Request.Context(), lec.ID, req.RollNo)
			publishMark(ctx, q, req.RollNo, lec.LectureNumber, lec.Date, attendance.StatusPresent)
		}

		status := http.StatusOK
		if mark.Action == attendance.ActionRejected {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"success": mark.Fresh || mark.Action == attendance.ActionAlreadyMarked,
			"action":  mark.Action,
			"message": mark.Message,
			"record":  mark.Record,
		})
	})

	teacherGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher, auth.RoleMentor))

	teacherGroup.POST("/lectures", func(c *gin.Context) {
		var req struct {
			LectureNumber int    `json:"lectureNumber" binding:"required"`
			Date          string `json:"date" binding:"required"`
			Subject       string `json:"subject" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		lec, err := lectures.Start(c.Request.Context(), req.LectureNumber, req.Date, req.Subject)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"lecture": lec})
	})

	teacherGroup.POST("/lectures/end", func(c *gin.Context) {
		lec, err := lectures.End(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if lec == nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "No active lecture to end"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"lecture": lec})
	})

	teacherGroup.POST("/attendance/manual", func(c *gin.Context) {
		var req struct {
			StudentIDs    []string          `json:"studentIds" binding:"required"`
			Status        attendance.Status `json:"status" binding:"required"`
			LectureNumber int               `json:"lectureNumber" binding:"required"`
			Date          string            `json:"date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		results, err := svc.BatchMark(c.Request.Context(), req.StudentIDs, req.Status, attendance.MethodManual, req.LectureNumber, req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}

		cur, _ := lectures.Current(c.Request.Context())

		marked := 0
		for _, res := range results {
			if res.Success {
				marked++
				publishMark(ctx, q, res.StudentID, req.LectureNumber, req.Date, req.Status)
				if cur != nil && cur.LectureNumber == req.LectureNumber && cur.Date == req.Date {
					_ = lectures.AddAttendee(c.Request.Context(), cur.ID, res.StudentID)
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Manual attendance marked for " + strconv.Itoa(marked) + " students",
			"results": results,
		})
	})

	teacherGroup.POST("/attendance/reconcile", func(c *gin.Context) {
		var req struct {
			Roster        map[string]attendance.Status `json:"roster" binding:"required"`
			LectureNumber int                          `json:"lectureNumber" binding:"required"`
			Date          string                       `json:"date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// The refresh closure re-reads authoritative statuses so the response
		// reflects the server state, not the operator's local assumption.
		var statuses map[string]attendance.Status
		engine, err := reconcile.NewEngine(batchWriter{svc}, func(ctx context.Context) error {
			var rerr error
			statuses, rerr = repo.StatusesFor(ctx, req.LectureNumber, req.Date)
			return rerr
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out, err := engine.Submit(c.Request.Context(), req.Roster, attendance.MethodManual, req.LectureNumber, req.Date)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "outcome": out})
			return
		}
		for id, status := range req.Roster {
			if statuses[id] == status {
				publishMark(ctx, q, id, req.LectureNumber, req.Date, status)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"successCount":   out.SuccessCount,
			"requests":       out.Requests,
			"failureDetails": out.FailureDetails,
			"statuses":       statuses,
		})
	})

	teacherGroup.POST("/students", func(c *gin.Context) {
		var req struct {
			RollNo    string   `json:"rollNo" binding:"required"`
			Name      string   `json:"name" binding:"required"`
			ImageURLs []string `json:"imageUrls"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := repo.UpsertStudent(c.Request.Context(), attendance.Student{RollNo: req.RollNo, Name: req.Name}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if len(req.ImageURLs) > 0 {
			if err := matcher.Enroll(c.Request.Context(), req.RollNo, req.Name, req.ImageURLs); err != nil {
				log.Printf("face enrollment failed for %s: %v", req.RollNo, err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "student saved but face enrollment failed"})
				return
			}
		}

		c.JSON(http.StatusCreated, gin.H{"rollNo": req.RollNo, "name": req.Name, "faceImages": len(req.ImageURLs)})
	})

	// Bulk upload: a CSV roster (rollNo,status) goes through the same
	// reconciliation round as manual entry, recorded as bulk_upload.
	teacherGroup.POST("/attendance/bulk", func(c *gin.Context) {
		lectureNumber, err := strconv.Atoi(c.PostForm("lectureNumber"))
		if err != nil || lectureNumber <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lectureNumber form field required"})
			return
		}
		date := c.PostForm("date")
		if date == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date form field required"})
			return
		}
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()

		roster, badRows, err := reconcile.ParseRosterCSV(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(roster) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no valid rows in roster", "failureDetails": badRows})
			return
		}

		var statuses map[string]attendance.Status
		engine, err := reconcile.NewEngine(batchWriter{svc}, func(ctx context.Context) error {
			var rerr error
			statuses, rerr = repo.StatusesFor(ctx, lectureNumber, date)
			return rerr
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out, err := engine.Submit(c.Request.Context(), roster, attendance.MethodBulk, lectureNumber, date)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "outcome": out})
			return
		}
		out.FailureDetails = append(out.FailureDetails, badRows...)
		for id, status := range roster {
			if statuses[id] == status {
				publishMark(ctx, q, id, lectureNumber, date, status)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"successCount":   out.SuccessCount,
			"requests":       out.Requests,
			"failureDetails": out.FailureDetails,
			"statuses":       statuses,
		})
	})

	teacherGroup.GET("/attendance/recent", func(c *gin.Context) {
		limit := 10
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		records, err := repo.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	teacherGroup.GET("/medical-leaves", func(c *gin.Context) {
		leaves, err := repo.ListLeaves(c.Request.Context(), c.Query("rollNo"), attendance.LeaveStatus(c.Query("status")))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": leaves})
	})

	teacherGroup.POST("/medical-leaves/:id/decision", func(c *gin.Context) {
		var req struct {
			Approve bool `json:"approve"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)

		leave, touched, err := svc.DecideLeave(c.Request.Context(), c.Param("id"), req.Approve, claims.Subject)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"request": leave, "recordsUpdated": touched})
	})

	authGroup := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.GET("/students/:rollNo/attendance", func(c *gin.Context) {
		rollNo := c.Param("rollNo")
		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)
		if claims.Role == auth.RoleStudent && claims.Subject != rollNo {
			c.JSON(http.StatusForbidden, gin.H{"error": "students may only read their own attendance"})
			return
		}

		records, err := repo.ListByStudent(c.Request.Context(), rollNo)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, aggregate.Summarize(records))
	})

	authGroup.POST("/medical-leaves", func(c *gin.Context) {
		var req struct {
			FromDate string `json:"fromDate" binding:"required"`
			ToDate   string `json:"toDate" binding:"required"`
			Reason   string `json:"reason" binding:"required"`
			ProofURL string `json:"proofUrl"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)

		leave, err := repo.InsertLeave(c.Request.Context(), attendance.LeaveRequest{
			RollNo:   claims.Subject,
			FromDate: req.FromDate,
			ToDate:   req.ToDate,
			Reason:   req.Reason,
			ProofURL: req.ProofURL,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"request": leave})
	})

	// Upload endpoint — uploads a base64 image or multipart file to Cloudinary
	// Returns the public URL so the caller can use it for enrollment photos
	authGroup.POST("/uploads", func(c *gin.Context) {
		if cdnClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
			return
		}

		contentType := c.ContentType()
		var result *cloudinary.UploadResult
		var err error

		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			// Multipart file upload
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = cdnClient.UploadBytes(c.Request.Context(), data, header.Filename)

		default:
			// JSON body with base64 data URL
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = cdnClient.UploadBase64(c.Request.Context(), body.Data)
		}

		if err != nil {
			log.Printf("cloudinary upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"url":       result.SecureURL,
			"public_id": result.PublicID,
			"width":     result.Width,
			"height":    result.Height,
			"bytes":     result.Bytes,
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// batchWriter adapts the attendance service to the reconcile engine.
type batchWriter struct {
	svc *attendance.Service
}

func (w batchWriter) WriteBatch(ctx context.Context, req reconcile.Request) ([]attendance.ItemResult, error) {
	return w.svc.BatchMark(ctx, req.StudentIDs, req.Status, req.Method, req.LectureNumber, req.Date)
}

func publishMark(ctx context.Context, q queue.Queue, rollNo string, lectureNumber int, date string, status attendance.Status) {
	body, _ := json.Marshal(map[string]any{
		"rollNo":        rollNo,
		"lectureNumber": lectureNumber,
		"date":          date,
		"status":        status,
	})
	if err := q.Publish(ctx, queue.Message{Type: "mark", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
