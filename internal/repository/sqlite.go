package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStudyRepository handles study persistence in a local SQLite file
type SQLiteStudyRepository struct {
	db  *sql.DB
	log *logrus.Logger
	now func() time.Time
}

// NewSQLiteStudyRepository creates a repository over an open, migrated database
func NewSQLiteStudyRepository(db *sql.DB, logger *logrus.Logger) *SQLiteStudyRepository {
	return &SQLiteStudyRepository{
		db:  db,
		log: logger,
		now: time.Now,
	}
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// UpsertPatient creates the patient if it does not exist yet
func (r *SQLiteStudyRepository) UpsertPatient(ctx context.Context, patientID string) error {
	query, args, err := sq.Insert("patients").
		Columns("patient_id", "created_at").
		Values(patientID, formatTime(r.now())).
		Suffix("ON CONFLICT (patient_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building patient upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to upsert patient")
		return storeError("upserting patient", err)
	}
	return nil
}

// InsertStudy appends a study record
func (r *SQLiteStudyRepository) InsertStudy(ctx context.Context, record *domain.StudyRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}
	enc, err := encodeStudy(record)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("studies").
		Columns(studyColumns...).
		Values(
			record.ID,
			record.PatientID,
			record.StudyDate,
			string(enc.CVResult),
			string(enc.NLPResult),
			record.ProgressionScore,
			string(enc.GenAIResult),
			record.ImageRef,
			formatTime(record.CreatedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building study insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
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
func (r *SQLiteStudyRepository) Timeline(ctx context.Context, patientID string) ([]*domain.StudyRecord, error) {
	query, args, err := sq.Select(studyColumns...).
		From("studies").
		Where(sq.Eq{"patient_id": patientID}).
		OrderBy(timelineOrder).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building timeline query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
		record, err := scanSQLiteStudy(rows)
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
func (r *SQLiteStudyRepository) Latest(ctx context.Context, patientID string) (*domain.StudyRecord, error) {
	query, args, err := sq.Select(studyColumns...).
		From("studies").
		Where(sq.Eq{"patient_id": patientID}).
		OrderBy(latestOrder).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building latest query: %w", err)
	}

	record, err := scanSQLiteStudy(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

// Close closes the database connection
func (r *SQLiteStudyRepository) Close() error {
	return r.db.Close()
}

func scanSQLiteStudy(s scanner) (*domain.StudyRecord, error) {
	var record domain.StudyRecord
	var cv, nlp, genai, createdAt string

	err := s.Scan(
		&record.ID,
		&record.PatientID,
		&record.StudyDate,
		&cv,
		&nlp,
		&record.ProgressionScore,
		&genai,
		&record.ImageRef,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	enc := encodedStudy{CVResult: []byte(cv), NLPResult: []byte(nlp), GenAIResult: []byte(genai)}
	if err := enc.decodeInto(&record); err != nil {
		return nil, err
	}
	if record.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
