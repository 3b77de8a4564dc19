package awstranscribe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"

	"github.com/forPelevin/sessionscribe/internal/types"
)

type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type transcribeAPI interface {
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
}

type Options struct {
	Region string
	Bucket string
	// LanguageCode such as "en-US"; empty enables automatic language identification.
	LanguageCode string
	MaxSpeakers  int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Adapter runs one Amazon Transcribe job per audio file and serves both the
// ASR and the diarization port from its result.
type Adapter struct {
	s3   s3API
	tr   transcribeAPI
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	cache map[string]result
}

func NewFromConfig(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Bucket == "" {
		return nil, errors.New("aws transcribe: bucket is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newAdapter(s3.NewFromConfig(cfg), transcribe.NewFromConfig(cfg), opts), nil
}

func newAdapter(s3c s3API, trc transcribeAPI, opts Options) *Adapter {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.MaxSpeakers <= 0 {
		opts.MaxSpeakers = 10
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{s3: s3c, tr: trc, opts: opts, log: log, cache: map[string]result{}}
}

func (a *Adapter) Transcribe(ctx context.Context, wavPath string) (types.ASRResult, error) {
	res, err := a.run(ctx, wavPath)
	if err != nil {
		return types.ASRResult{}, err
	}
	return res.asr(), nil
}

func (a *Adapter) Diarize(ctx context.Context, wavPath string) (types.DiarizationResult, error) {
	res, err := a.run(ctx, wavPath)
	if err != nil {
		return types.DiarizationResult{}, err
	}
	return res.diarization()
}

// run uploads the file, waits for the job and fetches its JSON. Concurrent
// callers for the same file share one job.
func (a *Adapter) run(ctx context.Context, wavPath string) (result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hash, err := fileHash(wavPath)
	if err != nil {
		return result{}, err
	}
	if r, ok := a.cache[hash]; ok {
		return r, nil
	}

	key := fmt.Sprintf("uploads/%s_%s", hash, filepath.Base(wavPath))
	jobName := "sessionscribe-" + hash
	log := a.log.With("job", jobName)

	exists, err := a.objectExists(ctx, key)
	if err != nil {
		return result{}, fmt.Errorf("check s3 object: %w", err)
	}
	if !exists {
		log.Info("uploading audio", "bucket", a.opts.Bucket, "key", key)
		if err := a.upload(ctx, key, wavPath); err != nil {
			return result{}, fmt.Errorf("upload audio: %w", err)
		}
	}
	if err := a.ensureJob(ctx, jobName, key, log); err != nil {
		return result{}, err
	}

	out, err := a.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.opts.Bucket), Key: aws.String(jobName + ".json")})
	if err != nil {
		return result{}, fmt.Errorf("fetch transcription result: %w", err)
	}
	defer out.Body.Close()
	var r result
	if err := json.NewDecoder(out.Body).Decode(&r); err != nil {
		return result{}, fmt.Errorf("decode transcription result: %w", err)
	}
	a.cache[hash] = r
	return r, nil
}

func (a *Adapter) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := a.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.opts.Bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Adapter) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{Bucket: aws.String(a.opts.Bucket), Key: aws.String(key), Body: f})
	return err
}

// ensureJob starts the job unless it already exists and polls until it completes.
func (a *Adapter) ensureJob(ctx context.Context, jobName, key string, log *slog.Logger) error {
	status, found, err := a.jobStatus(ctx, jobName)
	if err != nil {
		return fmt.Errorf("transcription job status: %w", err)
	}
	if !found {
		log.Info("starting transcription job")
		if err := a.startJob(ctx, jobName, key); err != nil {
			return fmt.Errorf("start transcription job: %w", err)
		}
		status = ttypes.TranscriptionJobStatusInProgress
	}

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()
	for {
		switch status {
		case ttypes.TranscriptionJobStatusCompleted:
			return nil
		case ttypes.TranscriptionJobStatusFailed:
			return fmt.Errorf("transcription job %s failed", jobName)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		status, _, err = a.jobStatus(ctx, jobName)
		if err != nil {
			return fmt.Errorf("transcription job status: %w", err)
		}
		log.Debug("transcription job status", "status", string(status))
	}
}

func (a *Adapter) jobStatus(ctx context.Context, jobName string) (ttypes.TranscriptionJobStatus, bool, error) {
	out, err := a.tr.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{TranscriptionJobName: aws.String(jobName)})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if out.TranscriptionJob == nil {
		return "", false, nil
	}
	return out.TranscriptionJob.TranscriptionJobStatus, true, nil
}

func (a *Adapter) startJob(ctx context.Context, jobName, key string) error {
	uri := fmt.Sprintf("s3://%s/%s", a.opts.Bucket, key)
	in := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		MediaFormat:          ttypes.MediaFormatWav,
		Media:                &ttypes.Media{MediaFileUri: aws.String(uri)},
		OutputBucketName:     aws.String(a.opts.Bucket),
		Settings: &ttypes.Settings{
			ShowSpeakerLabels: aws.Bool(true),
			MaxSpeakerLabels:  aws.Int32(int32(a.opts.MaxSpeakers)),
		},
	}
	if a.opts.LanguageCode != "" {
		in.LanguageCode = ttypes.LanguageCode(a.opts.LanguageCode)
	} else {
		in.IdentifyLanguage = aws.Bool(true)
	}
	_, err := a.tr.StartTranscriptionJob(ctx, in)
	return err
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NotFoundException", "NoSuchKey", "404":
			return true
		}
		if strings.Contains(apiErr.ErrorMessage(), "couldn't be found") {
			return true
		}
	}
	return false
}
