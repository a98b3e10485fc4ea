package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ridepool/internal/config"
	"github.com/example/ridepool/internal/geo"
	"github.com/example/ridepool/internal/ingest"
	"github.com/example/ridepool/internal/lifecycle"
	"github.com/example/ridepool/internal/models"
	"github.com/example/ridepool/internal/notify"
	"github.com/example/ridepool/internal/observability"
	"github.com/example/ridepool/internal/pool"
	"github.com/example/ridepool/internal/pricing"
	"github.com/example/ridepool/internal/route"
	"github.com/example/ridepool/internal/storage"
)

type Server struct {
	Lifecycle *lifecycle.Service
	Matcher   *pool.Matcher
	Locator   geo.Locator
	Pricing   *pricing.Calculator
	Store     storage.Store
	Kafka     *ingest.KafkaProducer
	Hub       *notify.Hub

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, store storage.Store, locator geo.Locator,
	lc *lifecycle.Service, matcher *pool.Matcher, calc *pricing.Calculator, kafka *ingest.KafkaProducer, hub *notify.Hub) *Server {
	s := &Server{
		Lifecycle: lc,
		Matcher:   matcher,
		Locator:   locator,
		Pricing:   calc,
		Store:     store,
		Kafka:     kafka,
		Hub:       hub,
		cfg:       cfg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides/request", s.handleRideRequest).Methods("POST")
	api.HandleFunc("/rides/matches", s.handleFindMatches).Methods("GET")
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/join", s.handleJoinPool).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/status", s.handleUpdateStatus).Methods("PUT")
	api.HandleFunc("/bookings/{booking_id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods("GET")
	api.HandleFunc("/quote", s.handleQuote).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{kind}/{id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type rideRequestBody struct {
	RiderID     string            `json:"riderId"`
	Pickup      models.Coordinate `json:"pickup"`
	Dropoff     models.Coordinate `json:"dropoff"`
	WantPooling bool              `json:"wantPooling"`
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, quote, err := s.Lifecycle.RequestRide(r.Context(), lifecycle.RequestCommand{
		RiderID: body.RiderID, Pickup: body.Pickup, Dropoff: body.Dropoff, WantPooling: body.WantPooling,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b, "fareInfo": quote})
}

func (s *Server) handleFindMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pickup, err := coordFromQuery(q.Get("pickup_lat"), q.Get("pickup_lng"), "pickup")
	if err != nil {
		s.writeError(w, err)
		return
	}
	dropoff, err := coordFromQuery(q.Get("dropoff_lat"), q.Get("dropoff_lng"), "dropoff")
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxDev := s.cfg.MaxDeviationKm
	if v := q.Get("max_deviation"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 20 {
			s.writeError(w, &models.ValidationError{Field: "max_deviation", Reason: "must be a number in [0,20]"})
			return
		}
		maxDev = f
	}
	matches, err := s.Matcher.FindMatches(r.Context(), pickup, dropoff, maxDev, s.cfg.MaxPoolMatches)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Store.GetRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"ride": ride}
	if len(ride.Route) > 1 {
		dist := route.TotalDistanceKm(ride.Route)
		resp["routeSummary"] = map[string]any{
			"distanceKm":      dist,
			"durationMinutes": route.EstimateDurationMinutes(dist, s.cfg.AvgSpeedKmh),
		}
	}
	if ride.DriverID != "" {
		if d, err := s.Store.GetDriver(r.Context(), ride.DriverID); err == nil {
			resp["driver"] = d
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type joinBody struct {
	RiderID string            `json:"riderId"`
	Pickup  models.Coordinate `json:"pickup"`
	Dropoff models.Coordinate `json:"dropoff"`
}

func (s *Server) handleJoinPool(w http.ResponseWriter, r *http.Request) {
	var body joinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, booking, err := s.Lifecycle.JoinPool(r.Context(), lifecycle.JoinCommand{
		RideID: mux.Vars(r)["ride_id"], RiderID: body.RiderID, Pickup: body.Pickup, Dropoff: body.Dropoff,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride, "booking": booking})
}

type statusBody struct {
	DriverID string `json:"driverId"`
	Status   string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Lifecycle.UpdateStatus(r.Context(), lifecycle.StatusCommand{
		RideID: mux.Vars(r)["ride_id"], DriverID: body.DriverID, Target: models.RideStatus(body.Status),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rideId": ride.ID, "status": ride.Status})
}

type acceptBody struct {
	DriverID string `json:"driverId"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Lifecycle.AcceptBooking(r.Context(), lifecycle.AcceptCommand{
		BookingID: mux.Vars(r)["booking_id"], DriverID: body.DriverID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride})
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err := coordFromQuery(q.Get("lat"), q.Get("lng"), "origin")
	if err != nil {
		s.writeError(w, err)
		return
	}
	radius := s.cfg.NearbyRadiusKm
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 50 {
			s.writeError(w, &models.ValidationError{Field: "radius", Reason: "must be a number in (0,50]"})
			return
		}
		radius = f
	}
	drivers := s.Locator.Nearby(origin, radius, s.cfg.NearbyLimit)
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers, "count": len(drivers)})
}

type quoteBody struct {
	Pickup         models.Coordinate `json:"pickup"`
	Dropoff        models.Coordinate `json:"dropoff"`
	Pooled         bool              `json:"pooled"`
	PassengerCount int               `json:"passengerCount"`
}

// handleQuote prices a hypothetical trip. With passengerCount > 0 the
// capacity-scaled pool rate applies; otherwise the flat policy.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := body.Pickup.Validate("pickup"); err != nil {
		s.writeError(w, err)
		return
	}
	if err := body.Dropoff.Validate("dropoff"); err != nil {
		s.writeError(w, err)
		return
	}
	if body.PassengerCount > 0 {
		writeJSON(w, http.StatusOK, s.Pricing.Pool(body.Pickup, body.Dropoff, body.PassengerCount))
		return
	}
	writeJSON(w, http.StatusOK, s.Pricing.Trip(body.Pickup, body.Dropoff, body.Pooled))
}

type driverLocationBody struct {
	DriverID string            `json:"driverId"`
	Location models.Coordinate `json:"location"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var body driverLocationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Lifecycle.UpdateDriverLocation(r.Context(), body.DriverID, body.Location); err != nil {
		s.writeError(w, err)
		return
	}
	// publish to kafka if configured
	if s.Kafka != nil {
		if d, err := s.Store.GetDriver(r.Context(), body.DriverID); err == nil {
			if err := s.Kafka.PublishLocation(*d); err != nil {
				s.logger.Warn("kafka publish failed", "driver", body.DriverID, "error", err)
			}
		}
	}
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

// handleWS upgrades and registers a participant session. The session is
// unregistered when the read loop sees the connection close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := notify.ParticipantKind(vars["kind"])
	if kind != notify.KindRider && kind != notify.KindDriver {
		http.Error(w, "kind must be rider or driver", http.StatusBadRequest)
		return
	}
	p := notify.Participant{Kind: kind, ID: vars["id"]}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.Hub.Register(p, conn)
	go func() {
		defer func() {
			s.Hub.Unregister(p)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error()})
	case errors.Is(err, storage.ErrCapacityExceeded):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "code": "capacity_exceeded"})
	case errors.Is(err, storage.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	default:
		s.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func coordFromQuery(latStr, lngStr, field string) (models.Coordinate, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return models.Coordinate{}, &models.ValidationError{Field: field, Reason: "lat must be a number"}
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return models.Coordinate{}, &models.ValidationError{Field: field, Reason: "lng must be a number"}
	}
	c := models.Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(field); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
