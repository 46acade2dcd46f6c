// Package transcribe runs speech-to-text jobs over audio stored in S3
// using AWS Transcribe.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
)

// Common error types for transcription operations.
var (
	// ErrUnsupportedFormat indicates the audio file extension is not a
	// format Transcribe accepts.
	ErrUnsupportedFormat = errors.New("transcribe: unsupported media format")

	// ErrJobFailed indicates the transcription job finished in a failed
	// state.
	ErrJobFailed = errors.New("transcribe: transcription job failed")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("transcribe: invalid input")
)

// defaultPollInterval is the delay between job status checks.
const defaultPollInterval = time.Second

// mediaFormats maps file extensions to Transcribe media formats.
var mediaFormats = map[string]types.MediaFormat{
	".mp3":  types.MediaFormatMp3,
	".mp4":  types.MediaFormatMp4,
	".wav":  types.MediaFormatWav,
	".flac": types.MediaFormatFlac,
	".ogg":  types.MediaFormatOgg,
	".amr":  types.MediaFormatAmr,
	".webm": types.MediaFormatWebm,
}

// languageCodes maps short language tags to Transcribe language codes.
var languageCodes = map[string]types.LanguageCode{
	"en": types.LanguageCodeEnUs,
	"fr": types.LanguageCodeFrFr,
}

// API defines the Transcribe operations used by the client.
type API interface {
	StartTranscriptionJob(
		ctx context.Context,
		params *transcribe.StartTranscriptionJobInput,
		optFns ...func(*transcribe.Options),
	) (*transcribe.StartTranscriptionJobOutput, error)

	GetTranscriptionJob(
		ctx context.Context,
		params *transcribe.GetTranscriptionJobInput,
		optFns ...func(*transcribe.Options),
	) (*transcribe.GetTranscriptionJobOutput, error)

	DeleteTranscriptionJob(
		ctx context.Context,
		params *transcribe.DeleteTranscriptionJobInput,
		optFns ...func(*transcribe.Options),
	) (*transcribe.DeleteTranscriptionJobOutput, error)
}

// Verify that the SDK client implements our interface
var _ API = (*transcribe.Client)(nil)

// Job describes a transcription job's current state.
type Job struct {
	Name          string
	Status        string
	TranscriptURI string
	FailureReason string
}

// clientConfig holds the configuration assembled from Options.
type clientConfig struct {
	appName         string
	region          string
	pollInterval    time.Duration
	httpClient      *http.Client
	logger          *slog.Logger
	customAWSConfig *aws.Config
}

// Option configures the transcription client.
type Option func(*clientConfig)

// WithAppName sets the application prefix used in generated job names.
func WithAppName(name string) Option {
	return func(c *clientConfig) {
		c.appName = name
	}
}

// WithRegion sets the region used for transcription operations.
func WithRegion(region string) Option {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithPollInterval sets the delay between job status checks when waiting
// for completion.
func WithPollInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithHTTPClient provides the HTTP client used to fetch transcripts.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithLogger sets the structured logger used by the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithAWSConfig provides a fully built AWS configuration, overriding the
// default configuration loading behavior.
func WithAWSConfig(cfg *aws.Config) Option {
	return func(c *clientConfig) {
		c.customAWSConfig = cfg
	}
}

// Client runs transcription jobs.
type Client struct {
	api          API
	appName      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a transcription client using the default AWS credential
// chain.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := newClientConfig(opts)

	var awsCfg aws.Config
	var err error
	if cfg.customAWSConfig != nil {
		awsCfg = *cfg.customAWSConfig
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("transcribe: failed to load AWS config: %w", err)
		}
	}
	if cfg.region != "" {
		awsCfg.Region = cfg.region
	}

	return newClient(transcribe.NewFromConfig(awsCfg), cfg), nil
}

// NewWithAPI creates a client over a custom API implementation. This is
// primarily used for testing with mocked clients.
func NewWithAPI(api API, opts ...Option) *Client {
	return newClient(api, newClientConfig(opts))
}

func newClientConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		appName:      "golcloud",
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func newClient(api API, cfg *clientConfig) *Client {
	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		api:          api,
		appName:      cfg.appName,
		pollInterval: cfg.pollInterval,
		httpClient:   httpClient,
		logger:       cfg.logger,
		now:          time.Now,
	}
}

// StartJob starts a transcription job for an object in S3 and returns the
// generated job name. The media format is derived from the key's
// extension. The language is a short tag like "en" or "fr"; when empty,
// Transcribe identifies the language automatically. Unknown names fall
// back to en-US with a warning.
func (c *Client) StartJob(ctx context.Context, bucket, key, language string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("%w: bucket and key cannot be empty", ErrInvalidInput)
	}

	format, ok := mediaFormats[strings.ToLower(path.Ext(key))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, path.Ext(key))
	}

	jobName := fmt.Sprintf("ti-%s-%d", c.appName, c.now().Unix())
	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		Media: &types.Media{
			MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", bucket, key)),
		},
		MediaFormat: format,
	}

	if language == "" {
		input.IdentifyLanguage = aws.Bool(true)
	} else {
		code, ok := languageCodes[strings.ToLower(language)]
		if !ok {
			c.logWarn(ctx, "unknown language, defaulting to en-US", "language", language)
			code = types.LanguageCodeEnUs
		}
		input.LanguageCode = code
	}

	if _, err := c.api.StartTranscriptionJob(ctx, input); err != nil {
		c.logError(ctx, "failed to start transcription job", "job", jobName, "error", err)
		return "", fmt.Errorf("transcribe: start job: %w", err)
	}

	c.logInfo(ctx, "transcription job started", "job", jobName, "bucket", bucket, "key", key)
	return jobName, nil
}

// GetJob returns the current state of a transcription job.
func (c *Client) GetJob(ctx context.Context, jobName string) (*Job, error) {
	if jobName == "" {
		return nil, fmt.Errorf("%w: job name cannot be empty", ErrInvalidInput)
	}

	out, err := c.api.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: get job: %w", err)
	}
	if out.TranscriptionJob == nil {
		return nil, fmt.Errorf("transcribe: job %q has no state", jobName)
	}

	job := &Job{
		Name:          jobName,
		Status:        string(out.TranscriptionJob.TranscriptionJobStatus),
		FailureReason: aws.ToString(out.TranscriptionJob.FailureReason),
	}
	if out.TranscriptionJob.Transcript != nil {
		job.TranscriptURI = aws.ToString(out.TranscriptionJob.Transcript.TranscriptFileUri)
	}
	return job, nil
}

// DeleteJob removes a transcription job and its results.
func (c *Client) DeleteJob(ctx context.Context, jobName string) error {
	if jobName == "" {
		return fmt.Errorf("%w: job name cannot be empty", ErrInvalidInput)
	}

	if _, err := c.api.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	}); err != nil {
		return fmt.Errorf("transcribe: delete job: %w", err)
	}
	return nil
}

// TranscribeKey transcribes an audio object end to end: it starts a job,
// polls until completion, fetches the transcript, and deletes the job.
// Job deletion is best effort.
func (c *Client) TranscribeKey(ctx context.Context, bucket, key, language string) (string, error) {
	jobName, err := c.StartJob(ctx, bucket, key, language)
	if err != nil {
		return "", err
	}

	job, err := c.waitForJob(ctx, jobName)
	if err != nil {
		return "", err
	}

	text, err := c.fetchTranscript(ctx, job.TranscriptURI)
	if err != nil {
		return "", err
	}

	if err := c.DeleteJob(ctx, jobName); err != nil {
		c.logWarn(ctx, "failed to delete transcription job", "job", jobName, "error", err)
	}

	return text, nil
}

// waitForJob polls the job until it completes or fails.
func (c *Client) waitForJob(ctx context.Context, jobName string) (*Job, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobName)
		if err != nil {
			return nil, err
		}

		switch types.TranscriptionJobStatus(job.Status) {
		case types.TranscriptionJobStatusCompleted:
			return job, nil
		case types.TranscriptionJobStatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, job.FailureReason)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// transcriptDocument is the shape of the JSON document Transcribe writes
// to the transcript URI.
type transcriptDocument struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// fetchTranscript downloads the transcript document and extracts the
// transcript text.
func (c *Client) fetchTranscript(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("transcribe: job completed without a transcript URI")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: build transcript request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: fetch transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: transcript fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("transcribe: read transcript: %w", err)
	}

	var doc transcriptDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("transcribe: decode transcript: %w", err)
	}

	var parts []string
	for _, t := range doc.Results.Transcripts {
		if t.Transcript != "" {
			parts = append(parts, t.Transcript)
		}
	}
	return strings.Join(parts, " "), nil
}

func (c *Client) logInfo(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, msg, args...)
	}
}

func (c *Client) logWarn(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.WarnContext(ctx, msg, args...)
	}
}

func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.ErrorContext(ctx, msg, args...)
	}
}
