package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/fleet-dispatch/internal/models"
)

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

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, rider_id, operator_id, pickup_lat, pickup_lon, dest_lat, dest_lon, dropoff_lat, dropoff_lon, status, points, created_at, updated_at, completed_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RiderID, nullString(r.OperatorID), r.Pickup.Lat, r.Pickup.Lon, r.Destination.Lat, r.Destination.Lon,
		nullCoordLat(r.Dropoff), nullCoordLon(r.Dropoff), string(r.Status), nullInt(r.Points), r.CreatedAt, r.UpdatedAt, nullTime(r.CompletedAt))
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	res, err := p.db.Exec(`UPDATE rides SET operator_id=$1, dropoff_lat=$2, dropoff_lon=$3, status=$4, points=$5, updated_at=$6, completed_at=$7 WHERE id=$8`,
		nullString(r.OperatorID), nullCoordLat(r.Dropoff), nullCoordLon(r.Dropoff), string(r.Status), nullInt(r.Points), r.UpdatedAt, nullTime(r.CompletedAt), r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	row := p.db.QueryRow(`SELECT id, rider_id, operator_id, pickup_lat, pickup_lon, dest_lat, dest_lon, dropoff_lat, dropoff_lon, status, points, created_at, updated_at, completed_at FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) RidesByOperator(operatorID string, limit int) ([]*models.Ride, error) {
	rows, err := p.db.Query(`SELECT id, rider_id, operator_id, pickup_lat, pickup_lon, dest_lat, dest_lon, dropoff_lat, dropoff_lon, status, points, created_at, updated_at, completed_at
		FROM rides WHERE operator_id=$1 ORDER BY created_at DESC LIMIT $2`, operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RidesByStatus(status models.RideStatus) ([]*models.Ride, error) {
	rows, err := p.db.Query(`SELECT id, rider_id, operator_id, pickup_lat, pickup_lon, dest_lat, dest_lon, dropoff_lat, dropoff_lon, status, points, created_at, updated_at, completed_at
		FROM rides WHERE status=$1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountByStatus() (map[models.RideStatus]int, error) {
	rows, err := p.db.Query(`SELECT status, COUNT(*) FROM rides GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[models.RideStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.RideStatus(status)] = n
	}
	return counts, rows.Err()
}

func (p *PostgresStore) SaveOperator(op *models.Operator) error {
	_, err := p.db.Exec(`INSERT INTO operators(id, name, lat, lon, rating, status, total_rides, updated)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET name=$2, lat=$3, lon=$4, rating=$5, status=$6, total_rides=$7, updated=$8`,
		op.ID, op.Name, op.Loc.Lat, op.Loc.Lon, op.Rating, string(op.Status), op.TotalRides, op.Updated)
	return err
}

func (p *PostgresStore) UpdateOperator(op *models.Operator) error {
	res, err := p.db.Exec(`UPDATE operators SET name=$1, lat=$2, lon=$3, rating=$4, status=$5, total_rides=$6, updated=$7 WHERE id=$8`,
		op.Name, op.Loc.Lat, op.Loc.Lon, op.Rating, string(op.Status), op.TotalRides, op.Updated, op.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetOperator(id string) (*models.Operator, error) {
	var op models.Operator
	var status string
	err := p.db.QueryRow(`SELECT id, name, lat, lon, rating, status, total_rides, updated FROM operators WHERE id=$1`, id).
		Scan(&op.ID, &op.Name, &op.Loc.Lat, &op.Loc.Lon, &op.Rating, &status, &op.TotalRides, &op.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	op.Status = models.OperatorStatus(status)
	return &op, nil
}

func (p *PostgresStore) SaveReview(item *models.ReviewItem) error {
	_, err := p.db.Exec(`INSERT INTO review_items(id, ride_id, operator_id, distance_error_m, tentative_points, status, resolved_by, final_points, created_at, resolved_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		item.ID, item.RideID, item.OperatorID, item.DistanceErrorM, item.TentativePoints, string(item.Status),
		nullString(item.ResolvedBy), nullInt(item.FinalPoints), item.CreatedAt, nullTime(item.ResolvedAt))
	return err
}

func (p *PostgresStore) UpdateReview(item *models.ReviewItem) error {
	res, err := p.db.Exec(`UPDATE review_items SET status=$1, resolved_by=$2, final_points=$3, resolved_at=$4 WHERE id=$5`,
		string(item.Status), nullString(item.ResolvedBy), nullInt(item.FinalPoints), nullTime(item.ResolvedAt), item.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetReview(id string) (*models.ReviewItem, error) {
	row := p.db.QueryRow(`SELECT id, ride_id, operator_id, distance_error_m, tentative_points, status, resolved_by, final_points, created_at, resolved_at FROM review_items WHERE id=$1`, id)
	return scanReview(row)
}

func (p *PostgresStore) PendingReviews() ([]*models.ReviewItem, error) {
	rows, err := p.db.Query(`SELECT id, ride_id, operator_id, distance_error_m, tentative_points, status, resolved_by, final_points, created_at, resolved_at
		FROM review_items WHERE status='pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendEntry(e *models.LedgerEntry) error {
	_, err := p.db.Exec(`INSERT INTO ledger_entries(id, operator_id, ride_id, delta, created_at) VALUES($1,$2,$3,$4,$5)`,
		e.ID, e.OperatorID, e.RideID, e.Delta, e.CreatedAt)
	return err
}

func (p *PostgresStore) EntriesFor(operatorID string) ([]*models.LedgerEntry, error) {
	rows, err := p.db.Query(`SELECT id, operator_id, ride_id, delta, created_at FROM ledger_entries WHERE operator_id=$1 ORDER BY created_at ASC`, operatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OperatorID, &e.RideID, &e.Delta, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var operatorID sql.NullString
	var dropLat, dropLon sql.NullFloat64
	var status string
	var points sql.NullInt64
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RiderID, &operatorID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&dropLat, &dropLon, &status, &points, &r.CreatedAt, &r.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.OperatorID = operatorID.String
	r.Status = models.RideStatus(status)
	if dropLat.Valid && dropLon.Valid {
		r.Dropoff = &models.Coord{Lat: dropLat.Float64, Lon: dropLon.Float64}
	}
	if points.Valid {
		v := int(points.Int64)
		r.Points = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanReview(row rowScanner) (*models.ReviewItem, error) {
	var item models.ReviewItem
	var status string
	var resolvedBy sql.NullString
	var finalPoints sql.NullInt64
	var resolvedAt sql.NullTime
	err := row.Scan(&item.ID, &item.RideID, &item.OperatorID, &item.DistanceErrorM, &item.TentativePoints,
		&status, &resolvedBy, &finalPoints, &item.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Status = models.ReviewStatus(status)
	item.ResolvedBy = resolvedBy.String
	if finalPoints.Valid {
		v := int(finalPoints.Int64)
		item.FinalPoints = &v
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		item.ResolvedAt = &t
	}
	return &item, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullCoordLat(c *models.Coord) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}
}

func nullCoordLon(c *models.Coord) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lon, Valid: true}
}
