package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/ridepool/internal/models"
)

// PostgresStore implements Store on a single Postgres database. Each
// ride row colocates its passenger legs as jsonb, so every guard
// (status CAS, capacity, duplicate rider, append-and-increment) commits
// as one conditional UPDATE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, driver_id, passengers, is_pooled, status, route, total_fare, start_time, end_time, created_at, updated_at`

func (p *PostgresStore) InsertRide(ctx context.Context, r *models.Ride) error {
	passengers, err := json.Marshal(r.Passengers)
	if err != nil {
		return err
	}
	routeJSON, err := json.Marshal(r.Route)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`) VALUES($1,NULLIF($2,''),$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.DriverID, passengers, r.IsPooled, string(r.Status), routeJSON, r.TotalFare, r.StartTime, r.EndTime, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) OpenPooledRides(ctx context.Context) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE is_pooled
		  AND status IN ('requested','accepted','in-progress')
		  AND jsonb_array_length(passengers) < $1
		ORDER BY created_at`, models.MaxPoolPassengers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id=$1 AND status IN ('accepted','in-progress')
		ORDER BY created_at DESC LIMIT 1`, driverID)
	return scanRide(row)
}

func (p *PostgresStore) UpdateRideStatus(ctx context.Context, id string, from []models.RideStatus, to models.RideStatus, at time.Time) (*models.Ride, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET
			status = $2,
			start_time = CASE WHEN $2 = 'in-progress' AND start_time IS NULL THEN $3 ELSE start_time END,
			end_time   = CASE WHEN $2 = 'completed'   AND end_time   IS NULL THEN $3 ELSE end_time   END,
			updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+rideColumns, id, string(to), at, pq.Array(fromStrs))
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		// zero rows: distinguish unknown id from a failed guard
		if _, gerr := p.GetRide(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	return r, err
}

func (p *PostgresStore) AppendPassenger(ctx context.Context, rideID string, leg models.PassengerLeg) (*models.Ride, error) {
	legJSON, err := json.Marshal(leg)
	if err != nil {
		return nil, err
	}
	// Single conditional UPDATE: append + fare increment + every join
	// guard in one statement, so a racing join cannot seat a fifth
	// passenger.
	row := p.db.QueryRowContext(ctx, `UPDATE rides SET
			passengers = passengers || $2::jsonb,
			total_fare = total_fare + $3,
			updated_at = now()
		WHERE id = $1
		  AND is_pooled
		  AND status IN ('requested','accepted')
		  AND jsonb_array_length(passengers) < $4
		  AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(rides.passengers) AS elem
			WHERE elem->>'riderId' = $5
		  )
		RETURNING `+rideColumns,
		rideID, legJSON, leg.Fare, models.MaxPoolPassengers, leg.RiderID)
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.classifyJoinFailure(ctx, rideID, leg.RiderID)
	}
	return r, err
}

// classifyJoinFailure re-reads the ride after a zero-row conditional
// append to report which guard failed. Read-only; the failed write left
// no partial effect.
func (p *PostgresStore) classifyJoinFailure(ctx context.Context, rideID, riderID string) error {
	r, err := p.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	switch {
	case r.HasRider(riderID):
		return ErrDuplicateRider
	case len(r.Passengers) >= models.MaxPoolPassengers:
		return ErrCapacityExceeded
	default:
		return ErrConflict
	}
}

func (p *PostgresStore) SetRoute(ctx context.Context, rideID string, waypoints []models.Waypoint) error {
	routeJSON, err := json.Marshal(waypoints)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET route=$2, updated_at=now() WHERE id=$1`, rideID, routeJSON)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	pickup, err := json.Marshal(b.Pickup)
	if err != nil {
		return err
	}
	dropoff, err := json.Marshal(b.Dropoff)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO bookings(id, rider_id, ride_id, pickup, dropoff, want_pooling, status, fare, payment_status, created_at, updated_at)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.RiderID, b.RideID, pickup, dropoff, b.WantPooling, string(b.Status), b.Fare, string(b.PaymentStatus), b.CreatedAt, b.UpdatedAt)
	return err
}

const bookingColumns = `id, rider_id, ride_id, pickup, dropoff, want_pooling, status, fare, payment_status, created_at, updated_at`

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanBooking(row)
}

func (p *PostgresStore) ClaimBooking(ctx context.Context, id, rideID string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE bookings
		SET status='matched', ride_id=$2, updated_at=now()
		WHERE id=$1 AND status='requested'
		RETURNING `+bookingColumns, id, rideID)
	b, err := scanBooking(row)
	if errors.Is(err, ErrNotFound) {
		if _, gerr := p.GetBooking(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrConflict
	}
	return b, err
}

func (p *PostgresStore) ReleaseBooking(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings
		SET status='requested', ride_id=NULL, updated_at=now()
		WHERE id=$1 AND status='matched'`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) SettleBookingsForRide(ctx context.Context, rideID string, status models.BookingStatus, pay models.PaymentStatus) error {
	_, err := p.db.ExecContext(ctx, `UPDATE bookings
		SET status=$2, payment_status=$3, updated_at=now()
		WHERE ride_id=$1`, rideID, string(status), string(pay))
	return err
}

func (p *PostgresStore) UpsertDriver(ctx context.Context, d *models.Driver) error {
	var loc []byte
	if d.CurrentLocation != nil {
		var err error
		loc, err = json.Marshal(d.CurrentLocation)
		if err != nil {
			return err
		}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(id, user_id, vehicle_type, vehicle_number, location, is_available, rating, total_trips, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (id) DO UPDATE SET
			user_id=EXCLUDED.user_id, vehicle_type=EXCLUDED.vehicle_type,
			vehicle_number=EXCLUDED.vehicle_number, location=EXCLUDED.location,
			is_available=EXCLUDED.is_available, rating=EXCLUDED.rating,
			total_trips=EXCLUDED.total_trips, updated_at=now()`,
		d.ID, d.RiderAccountID, d.VehicleType, d.VehicleNumber, nullableJSON(loc), d.IsAvailable, d.Rating, d.TotalTrips)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, user_id, vehicle_type, vehicle_number, location, is_available, rating, total_trips, updated_at
		FROM drivers WHERE id=$1`, id)
	var d models.Driver
	var loc []byte
	err := row.Scan(&d.ID, &d.RiderAccountID, &d.VehicleType, &d.VehicleNumber, &loc, &d.IsAvailable, &d.Rating, &d.TotalTrips, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(loc) > 0 {
		var c models.Coordinate
		if err := json.Unmarshal(loc, &c); err == nil {
			d.CurrentLocation = &c
		}
	}
	return &d, nil
}

func (p *PostgresStore) SetDriverBusy(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET is_available=false, updated_at=now()
		WHERE id=$1 AND is_available`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := p.GetDriver(ctx, id); gerr != nil {
			return gerr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) FreeDriver(ctx context.Context, id string, incTrips bool) error {
	inc := 0
	if incTrips {
		inc = 1
	}
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET is_available=true, total_trips=total_trips+$2, updated_at=now()
		WHERE id=$1`, id, inc)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) UpdateDriverLocation(ctx context.Context, id string, loc models.Coordinate) error {
	locJSON, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE drivers SET location=$2, updated_at=now() WHERE id=$1`, id, locJSON)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var driverID sql.NullString
	var passengers, routeJSON []byte
	var start, end sql.NullTime
	err := row.Scan(&r.ID, &driverID, &passengers, &r.IsPooled, &r.Status, &routeJSON, &r.TotalFare, &start, &end, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		r.DriverID = driverID.String
	}
	if err := json.Unmarshal(passengers, &r.Passengers); err != nil {
		return nil, err
	}
	if len(routeJSON) > 0 {
		if err := json.Unmarshal(routeJSON, &r.Route); err != nil {
			return nil, err
		}
	}
	if start.Valid {
		t := start.Time
		r.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		r.EndTime = &t
	}
	return &r, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var rideID sql.NullString
	var pickup, dropoff []byte
	err := row.Scan(&b.ID, &b.RiderID, &rideID, &pickup, &dropoff, &b.WantPooling, &b.Status, &b.Fare, &b.PaymentStatus, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rideID.Valid {
		b.RideID = rideID.String
	}
	if err := json.Unmarshal(pickup, &b.Pickup); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dropoff, &b.Dropoff); err != nil {
		return nil, err
	}
	return &b, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
