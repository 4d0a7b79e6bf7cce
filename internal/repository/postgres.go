package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
)

// PostgresStudyRepository handles study persistence in PostgreSQL
type PostgresStudyRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPostgresStudyRepository creates a new PostgreSQL study repository
func NewPostgresStudyRepository(db *pgxpool.Pool, logger *logrus.Logger) *PostgresStudyRepository {
	return &PostgresStudyRepository{
		db:  db,
		log: logger,
	}
}

// UpsertPatient creates the patient if it does not exist yet
func (r *PostgresStudyRepository) UpsertPatient(ctx context.Context, patientID string) error {
	query := `
		INSERT INTO patients (patient_id, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (patient_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, patientID); err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to upsert patient")
		return storeError("upserting patient", err)
	}
	return nil
}

// InsertStudy appends a study record
func (r *PostgresStudyRepository) InsertStudy(ctx context.Context, record *domain.StudyRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	enc, err := encodeStudy(record)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO studies (%s)
		VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, $8, $9)`, strings.Join(studyColumns, ", "))

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.PatientID,
		record.StudyDate,
		enc.CVResult,
		enc.NLPResult,
		record.ProgressionScore,
		enc.GenAIResult,
		record.ImageRef,
		record.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"study_id":   record.ID,
			"patient_id": record.PatientID,
			"error":      err,
		}).Error("Failed to insert study")
		return storeError("inserting study", err)
	}

	r.log.WithFields(logrus.Fields{
		"study_id":          record.ID,
		"patient_id":        record.PatientID,
		"study_date":        record.StudyDate,
		"progression_score": record.ProgressionScore,
	}).Info("Study inserted successfully")
	return nil
}

// Timeline returns all studies of a patient in chronological order
func (r *PostgresStudyRepository) Timeline(ctx context.Context, patientID string) ([]*domain.StudyRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM studies
		WHERE patient_id = $1
		ORDER BY %s`, postgresSelectList(), postgresTimelineOrder)

	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to query timeline")
		return nil, storeError("querying timeline", err)
	}
	defer rows.Close()

	records := []*domain.StudyRecord{}
	for rows.Next() {
		record, err := scanPostgresStudy(rows)
		if err != nil {
			return nil, storeError("scanning study row", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterating study rows", err)
	}
	return records, nil
}

// Latest returns the most recent study of a patient
func (r *PostgresStudyRepository) Latest(ctx context.Context, patientID string) (*domain.StudyRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM studies
		WHERE patient_id = $1
		ORDER BY %s
		LIMIT 1`, postgresSelectList(), postgresLatestOrder)

	record, err := scanPostgresStudy(r.db.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no studies for patient %s: %w", patientID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get latest study")
		return nil, storeError("getting latest study", err)
	}
	return record, nil
}

// Close is a no-op; the pool is owned by database.DB.
func (r *PostgresStudyRepository) Close() error {
	return nil
}

// postgresSelectList reads the uuid id column back as text.
func postgresSelectList() string {
	cols := make([]string, len(studyColumns))
	copy(cols, studyColumns)
	cols[0] = "id::text"
	return strings.Join(cols, ", ")
}

func scanPostgresStudy(row pgx.Row) (*domain.StudyRecord, error) {
	var record domain.StudyRecord
	var enc encodedStudy

	err := row.Scan(
		&record.ID,
		&record.PatientID,
		&record.StudyDate,
		&enc.CVResult,
		&enc.NLPResult,
		&record.ProgressionScore,
		&enc.GenAIResult,
		&record.ImageRef,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := enc.decodeInto(&record); err != nil {
		return nil, err
	}
	return &record, nil
}
