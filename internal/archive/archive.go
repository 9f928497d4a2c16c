// Package archive mirrors dead letters into R2 as JSON objects, giving
// operators a copy that outlives the trimmed redis stream. Uploads run
// on a small worker pool so a slow bucket never stalls the consumer.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	conf "github.com/petmatch/dispatchhub/internal/config"
	"github.com/petmatch/dispatchhub/internal/entities"
)

var ErrQueueFull = errors.New("archive queue is full")

type uploadReq struct {
	ctx     context.Context
	key     string
	payload []byte
}

type Archive struct {
	AccountID          string
	Bucket             string
	Region             string // "auto" for R2
	Prefix             string
	AwsAccessKeyId     string
	AwsSecretAccessKey string

	Workers        int
	QueueSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration

	queue chan uploadReq
	wg    sync.WaitGroup

	S3Client *s3.Client
	Uploader *manager.Uploader
}

func New(cfg *conf.ArchiveConfig) (*Archive, error) {
	a := &Archive{
		AccountID:          cfg.AccountID,
		Bucket:             cfg.BucketName,
		Region:             "auto",
		Prefix:             cfg.Prefix,
		AwsAccessKeyId:     cfg.AccessKeyID,
		AwsSecretAccessKey: cfg.SecretKey,
		Workers:            2,
		QueueSize:          256,
		MaxRetries:         3,
		RetryBaseDelay:     300 * time.Millisecond,
	}
	if err := a.run(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) run() error {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.AwsAccessKeyId, a.AwsSecretAccessKey, "",
		)),
		awsconfig.WithRegion(a.Region),
	)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	a.S3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", a.AccountID))
		o.UsePathStyle = true
	})
	a.Uploader = manager.NewUploader(a.S3Client)

	a.queue = make(chan uploadReq, a.QueueSize)
	for i := 0; i < a.Workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}

	log.Printf("[archive] R2 dead-letter archive ready (bucket=%s prefix=%s)", a.Bucket, a.Prefix)
	return nil
}

// Close waits for all queued uploads to finish.
func (a *Archive) Close() {
	close(a.queue)
	a.wg.Wait()
}

// ArchiveDeadLetter enqueues the dead letter for upload without
// blocking; ErrQueueFull when the pool is saturated. Object keys carry
// the batch ID and failure time, so repeated dead-letterings of the
// same batch never overwrite each other.
func (a *Archive) ArchiveDeadLetter(ctx context.Context, dead entities.DeadLetterMessage) error {
	payload, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	key := fmt.Sprintf("%s/%s-%d.json", a.Prefix, dead.BatchID, dead.FailedAt.UnixMilli())
	req := uploadReq{ctx: ctx, key: key, payload: payload}
	select {
	case a.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (a *Archive) worker() {
	defer a.wg.Done()
	for req := range a.queue {
		attempt := 0
		for {
			attempt++
			_, err := a.Uploader.Upload(req.ctx, &s3.PutObjectInput{
				Bucket:      aws.String(a.Bucket),
				Key:         aws.String(req.key),
				Body:        bytes.NewReader(req.payload),
				ContentType: aws.String("application/json"),
			})
			if err == nil {
				break
			}
			if attempt > a.MaxRetries {
				log.Printf("[archive] giving up on %s after %d attempts: %v", req.key, attempt, err)
				break
			}

			timer := time.NewTimer(a.backoffDelay(attempt))
			select {
			case <-timer.C:
			case <-req.ctx.Done():
				timer.Stop()
			}
			if req.ctx != nil && req.ctx.Err() != nil {
				break
			}
		}
	}
}

func (a *Archive) backoffDelay(attempt int) time.Duration {
	delay := a.RetryBaseDelay << (attempt - 1)
	jitter := time.Duration(int64(delay) / 10)
	return delay - (jitter / 2) + time.Duration(int64(jitter)*time.Now().UnixNano()%2)
}
