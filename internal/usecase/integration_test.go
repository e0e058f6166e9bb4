package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Andrey-Arsen/robotic-vision/internal/domain/entity"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/colmap"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/email"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/ffmpeg"
	miniostorage "github.com/Andrey-Arsen/robotic-vision/internal/infra/minio"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/postgres"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/rabbitmq"
	"github.com/Andrey-Arsen/robotic-vision/internal/infra/sqlite"
	"github.com/Andrey-Arsen/robotic-vision/internal/testutil/faketool"
	"github.com/Andrey-Arsen/robotic-vision/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

const (
	itExchange = "robotic-vision"
	itRequests = "reconstruction.request"
	itStatus   = "reconstruction.status"
	itDLQ      = "reconstruction.request.dlq"
)

func TestWorkerEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("reconstruct"),
		tcpostgres.WithUsername("rv_user"),
		tcpostgres.WithPassword("rv_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(pgConnStr, "../../migrations"))

	// Start RabbitMQ container
	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Start MinIO container
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      minioEndpoint,
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		VideoBucket:   "videos",
		ArchiveBucket: "reconstructions",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	// The decoder is synthetic, so the object body only has to exist.
	videoKey := "testuser/walkaround.mp4"
	body := []byte("not really a video")
	_, err = minioClient.PutObject(ctx, "videos", videoKey, bytes.NewReader(body), int64(len(body)), miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, itExchange)
	require.NoError(t, err)
	defer pub.Close()

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	log, err := logger.New("debug")
	require.NoError(t, err)

	tool := faketool.Write(t)
	reconstruct := NewReconstructUseCase(
		colmap.NewRunner(colmap.RunnerConfig{Path: tool.Path()}, log),
		ffmpeg.NewSampler(&clipDecoder{rate: 30, seconds: 4}, log),
		colmap.NewLayoutNormalizer(log),
		sqlite.NewInspector(),
		postgres.NewRunRepository(pool),
		log,
		ReconstructConfig{FrameRate: 2, MaxImageSize: 2000},
	)
	uc := NewProcessRequestUseCase(
		postgres.NewJobRepository(pool), storage, reconstruct, ffmpeg.NewZipCreator(),
		rabbitmq.NewStatusPublisher(pub), rabbitmq.NewDLQPublisher(pub, itDLQ),
		email.NewSMTPNotifier("localhost", 1025, "test@test.local", log),
		log,
		ProcessRequestConfig{WorkspaceRoot: t.TempDir(), TempDir: t.TempDir(), MaxRetries: 3},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       itRequests,
		Exchange:    itExchange,
		DLQ:         itDLQ,
		StatusQueue: itStatus,
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()
	go func() {
		_ = consumer.Start(consumerCtx)
	}()

	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()
	statusMsgs, err := statusCh.Consume(itStatus, "", true, false, false, false, nil)
	require.NoError(t, err)

	jobID := uuid.New()
	msgBody, err := json.Marshal(entity.ReconstructionRequestMessage{
		JobID:     jobID,
		UserID:    "testuser",
		VideoKey:  videoKey,
		UserEmail: "test@test.local",
	})
	require.NoError(t, err)
	require.NoError(t, pub.PublishRequest(ctx, msgBody))

	var statusMsg entity.ReconstructionStatusMessage
	deadline := time.After(2 * time.Minute)
	for statusMsg.Status != entity.JobStatusCompleted {
		select {
		case delivery := <-statusMsgs:
			require.NoError(t, json.Unmarshal(delivery.Body, &statusMsg))
			require.NotEqual(t, entity.JobStatusFailed, statusMsg.Status, statusMsg.ErrorMessage)
		case <-deadline:
			t.Fatal("timeout waiting for completed status")
		}
	}

	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, entity.StageDone, statusMsg.Stage)
	assert.Equal(t, 8, statusMsg.FrameCount)
	assert.Equal(t, "testuser/reconstruction_"+jobID.String()+".zip", statusMsg.ArchiveKey)

	obj, err := minioClient.GetObject(ctx, "reconstructions", statusMsg.ArchiveKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	pngCount, modelFiles := 0, 0
	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, "images/") && strings.HasSuffix(f.Name, ".png"):
			pngCount++
		case filepath.Dir(f.Name) == "sparse/0":
			modelFiles++
		}
	}
	assert.Equal(t, 8, pngCount)
	assert.Equal(t, 3, modelFiles)

	var dbStatus, dbStage string
	err = pool.QueryRow(ctx,
		"SELECT status, last_stage FROM reconstruction_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbStage)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, "DONE", dbStage)

	var doneRuns int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM reconstruction_runs WHERE stage='DONE' AND frame_count=8",
	).Scan(&doneRuns))
	assert.Equal(t, 1, doneRuns)
}
