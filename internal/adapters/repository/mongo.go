package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/pipeline"
	"github.com/okian/presence/pkg/logger"
)

// Collection names.
const (
	collTemplates  = "face_templates"
	collAttendance = "attendance"
	collClasses    = "classes"
	collLiveness   = "liveness_logs"
	collCaptures   = "capture_logs"
	collGPS        = "gps_invalid_logs"
	collPending    = "pending_notifications"

	connectTimeout = 15 * time.Second
	minPoolSize    = 5
	maxPoolSize    = 50
)

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client     *mongo.Client
	templates  *mongo.Collection
	attendance *mongo.Collection
	classes    *mongo.Collection
	liveness   *mongo.Collection
	captures   *mongo.Collection
	gps        *mongo.Collection
	pending    *mongo.Collection
	logger     logger.Logger
}

// NewMongoStore connects to uri, selects database and makes sure the
// indexes exist.
func NewMongoStore(ctx context.Context, uri, database string, opts ...Option) (*MongoStore, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri)
	clientOpts.SetMinPoolSize(minPoolSize)
	clientOpts.SetMaxPoolSize(maxPoolSize)

	client, err := mongo.Connect(cctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:     client,
		templates:  db.Collection(collTemplates),
		attendance: db.Collection(collAttendance),
		classes:    db.Collection(collClasses),
		liveness:   db.Collection(collLiveness),
		captures:   db.Collection(collCaptures),
		gps:        db.Collection(collGPS),
		pending:    db.Collection(collPending),
		logger:     cfg.logger,
	}
	if err := s.setUpIndexes(cctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.logger.Info(ctx, "connected to mongodb", logger.String("database", database))
	return s, nil
}

func (s *MongoStore) setUpIndexes(ctx context.Context) error {
	byUserTime := []mongo.IndexModel{{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "logged_at", Value: -1}},
	}}
	if _, err := s.attendance.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "student_id", Value: 1}, {Key: "class_id", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("attendance index: %w", err)
	}
	if _, err := s.liveness.Indexes().CreateMany(ctx, byUserTime); err != nil {
		return fmt.Errorf("liveness log index: %w", err)
	}
	if _, err := s.captures.Indexes().CreateMany(ctx, byUserTime); err != nil {
		return fmt.Errorf("capture log index: %w", err)
	}
	if _, err := s.gps.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "student_id", Value: 1}, {Key: "timestamp", Value: -1}},
	}); err != nil {
		return fmt.Errorf("gps log index: %w", err)
	}
	if _, err := s.pending.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "instructor_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("pending index: %w", err)
	}
	return nil
}

// GetTemplate implements Store.
func (s *MongoStore) GetTemplate(ctx context.Context, userID string) (*model.EnrollmentTemplate, error) {
	var t model.EnrollmentTemplate
	if err := s.templates.FindOne(ctx, bson.M{"_id": userID}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find template: %w", err)
	}
	return &t, nil
}

// SaveTemplate implements Store.
func (s *MongoStore) SaveTemplate(ctx context.Context, t model.EnrollmentTemplate) error {
	if t.UserID == "" {
		return fmt.Errorf("%w: template without user", ErrInvalidRecord)
	}
	_, err := s.templates.ReplaceOne(ctx, bson.M{"_id": t.UserID}, t, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

// HasAttendance implements Store.
func (s *MongoStore) HasAttendance(ctx context.Context, studentID, classID, date string) (bool, error) {
	n, err := s.attendance.CountDocuments(ctx,
		bson.M{"student_id": studentID, "class_id": classID, "date": date},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count attendance: %w", err)
	}
	return n > 0, nil
}

// RecordAttendance implements Store. The unique index turns a lost race
// into ErrAlreadyCheckedInToday.
func (s *MongoStore) RecordAttendance(ctx context.Context, rec model.AttendanceRecord) error {
	if rec.StudentID == "" || rec.ClassID == "" || rec.Date == "" {
		return fmt.Errorf("%w: attendance without student, class or date", ErrInvalidRecord)
	}
	if _, err := s.attendance.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s/%s on %s", pipeline.ErrAlreadyCheckedInToday, rec.StudentID, rec.ClassID, rec.Date)
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// GetClass implements Store.
func (s *MongoStore) GetClass(ctx context.Context, classID string) (*model.ClassInfo, error) {
	var c model.ClassInfo
	if err := s.classes.FindOne(ctx, bson.M{"_id": classID}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &c, nil
}

// SaveClass implements Store.
func (s *MongoStore) SaveClass(ctx context.Context, c model.ClassInfo) error {
	if c.ID == "" {
		return fmt.Errorf("%w: class without id", ErrInvalidRecord)
	}
	_, err := s.classes.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save class: %w", err)
	}
	return nil
}

// AppendLiveness implements Store.
func (s *MongoStore) AppendLiveness(ctx context.Context, e model.LivenessLogEntry) error {
	_, err := s.liveness.InsertOne(ctx, e)
	return wrap("insert liveness log", err)
}

// AppendCapture implements Store.
func (s *MongoStore) AppendCapture(ctx context.Context, e model.CaptureLogEntry) error {
	_, err := s.captures.InsertOne(ctx, e)
	return wrap("insert capture log", err)
}

// AppendGPS implements Store.
func (s *MongoStore) AppendGPS(ctx context.Context, e model.GPSAuditEntry) error {
	_, err := s.gps.InsertOne(ctx, e)
	return wrap("insert gps log", err)
}

// LivenessLogs implements Store.
func (s *MongoStore) LivenessLogs(ctx context.Context, userID string, limit int) ([]model.LivenessLogEntry, error) {
	out := []model.LivenessLogEntry{}
	err := s.findNewest(ctx, s.liveness, bson.M{"user_id": userID}, "logged_at", limit, &out)
	return out, err
}

// CaptureLogs implements Store.
func (s *MongoStore) CaptureLogs(ctx context.Context, userID string, limit int) ([]model.CaptureLogEntry, error) {
	out := []model.CaptureLogEntry{}
	err := s.findNewest(ctx, s.captures, bson.M{"user_id": userID}, "logged_at", limit, &out)
	return out, err
}

// GPSLogs returns out-of-range attempts for a student, newest first.
func (s *MongoStore) GPSLogs(ctx context.Context, studentID string, limit int) ([]model.GPSAuditEntry, error) {
	out := []model.GPSAuditEntry{}
	err := s.findNewest(ctx, s.gps, bson.M{"student_id": studentID}, "timestamp", limit, &out)
	return out, err
}

func (s *MongoStore) findNewest(ctx context.Context, c *mongo.Collection, filter bson.M, field string, limit int, out any) error {
	opts := options.Find().SetSort(bson.D{{Key: field, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", c.Name(), err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("decode %s: %w", c.Name(), err)
	}
	return nil
}

// SavePending implements Store.
func (s *MongoStore) SavePending(ctx context.Context, n model.Notification) error {
	if n.InstructorID == "" {
		return fmt.Errorf("%w: notification without instructor", ErrInvalidRecord)
	}
	_, err := s.pending.InsertOne(ctx, n)
	return wrap("insert pending notification", err)
}

// TakePending implements Store. Only the documents read are deleted, so a
// notification queued concurrently waits for the next connect.
func (s *MongoStore) TakePending(ctx context.Context, instructorID string) ([]model.Notification, error) {
	cur, err := s.pending.Find(ctx, bson.M{"instructor_id": instructorID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	var out []model.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	ids := make(bson.A, len(out))
	for i, n := range out {
		ids[i] = n.ID
	}
	if _, err := s.pending.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return nil, fmt.Errorf("delete pending: %w", err)
	}
	return out, nil
}

// Ping implements Store.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close implements Store.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
