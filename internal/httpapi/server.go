package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/velvetapps/StarMarket/internal/models"
	"github.com/velvetapps/StarMarket/internal/repository"
	"github.com/velvetapps/StarMarket/internal/service"
	"github.com/velvetapps/StarMarket/internal/storage"
	"github.com/velvetapps/StarMarket/internal/telegram"
)

const maxArtworkBytes = 5 << 20

// Server is the HTTP surface: public collection listing, the Telegram webhook
// receiver, the websocket upgrade endpoint and a basic-auth admin group.
type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	nfts     *service.NFTService
	bot      *telegram.Service
	uploader *storage.Uploader
	hub      http.Handler
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, nfts *service.NFTService, bot *telegram.Service, uploader *storage.Uploader, hub http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		nfts:     nfts,
		bot:      bot,
		uploader: uploader,
		hub:      hub,
		router:   r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/collections", s.handleListCollections)
	r.Post("/webhook/telegram", s.handleTelegramWebhook)
	r.Get("/ws", s.hub.ServeHTTP)

	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/admin/broadcast", s.handleBroadcast)
		protected.Post("/admin/artwork", s.handleUploadArtwork)
		protected.Route("/admin/collections", func(r chi.Router) {
			r.Get("/", s.handleListCollections)
			r.Post("/", s.handleCreateCollection)
			r.Put("/{id}", s.handleUpdateCollection)
			r.Post("/{id}/attributes", s.handleAddAttribute)
		})
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		// Long-lived websocket connections share this server; no write timeout.
		WriteTimeout: 0,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.nfts.Collections(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	if collections == nil {
		collections = []models.Collection{}
	}
	s.writeJSON(w, http.StatusOK, collections)
}

func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	s.bot.HandleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	sent, total, err := s.bot.Broadcast(r.Context(), req.Message)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sent": sent, "total": total})
}

func (s *Server) handleUploadArtwork(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxArtworkBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxArtworkBytes+1))
	if err != nil {
		s.internalError(w, err)
		return
	}
	if len(data) > maxArtworkBytes {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key, url, err := s.uploader.Upload(r.Context(), data, contentType)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"key": key, "url": url})
}

type collectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageKey    string `json:"image_key"`
	Price       int    `json:"price"`
	TotalSupply int    `json:"total_supply"`
	Updateble   bool   `json:"updateble"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	collection := &models.Collection{
		Name:        req.Name,
		Description: req.Description,
		ImageKey:    req.ImageKey,
		Price:       req.Price,
		TotalSupply: req.TotalSupply,
		Updateble:   req.Updateble,
	}
	if err := s.nfts.CreateCollection(r.Context(), collection); err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, collection)
}

func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	collection := &models.Collection{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		ImageKey:    req.ImageKey,
		Price:       req.Price,
		TotalSupply: req.TotalSupply,
		Updateble:   req.Updateble,
	}
	if err := s.nfts.UpdateCollection(r.Context(), collection); err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			http.Error(w, "collection not found", http.StatusNotFound)
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, collection)
}

type attributeRequest struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Rarity   int    `json:"rarity"`
	ImageKey string `json:"image_key"`
}

func (s *Server) handleAddAttribute(w http.ResponseWriter, r *http.Request) {
	collectionID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req attributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	kind := repository.AttributeKind(req.Kind)
	switch kind {
	case repository.AttributeModel, repository.AttributeBackground, repository.AttributePattern:
	default:
		http.Error(w, "kind must be model, background or pattern", http.StatusBadRequest)
		return
	}
	attr := &models.Attribute{
		CollectionID: collectionID,
		Name:         req.Name,
		Rarity:       req.Rarity,
		ImageKey:     req.ImageKey,
	}
	if err := s.nfts.AddAttribute(r.Context(), kind, attr); err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			http.Error(w, "collection not found", http.StatusNotFound)
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, attr)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="starmarket"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
