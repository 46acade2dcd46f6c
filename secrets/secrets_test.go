package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockManagerAPI implements ManagerAPI with function fields.
type mockManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	createSecretFunc   func(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	describeSecretFunc func(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

func (m *mockManagerAPI) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getSecretValueFunc != nil {
		return m.getSecretValueFunc(ctx, params, optFns...)
	}
	return &secretsmanager.GetSecretValueOutput{}, nil
}

func (m *mockManagerAPI) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if m.putSecretValueFunc != nil {
		return m.putSecretValueFunc(ctx, params, optFns...)
	}
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (m *mockManagerAPI) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if m.createSecretFunc != nil {
		return m.createSecretFunc(ctx, params, optFns...)
	}
	return &secretsmanager.CreateSecretOutput{}, nil
}

func (m *mockManagerAPI) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if m.describeSecretFunc != nil {
		return m.describeSecretFunc(ctx, params, optFns...)
	}
	return &secretsmanager.DescribeSecretOutput{}, nil
}

// apiError builds a smithy API error with the given code.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return "simulated " + e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestGetSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		output  *secretsmanager.GetSecretValueOutput
		apiErr  error
		want    string
		wantErr error
	}{
		{
			name:   "string secret",
			secret: "db-password",
			output: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("s3cret")},
			want:   "s3cret",
		},
		{
			name:   "binary secret",
			secret: "binary-secret",
			output: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte("raw-bytes")},
			want:   "raw-bytes",
		},
		{
			name:    "empty secret",
			secret:  "empty",
			output:  &secretsmanager.GetSecretValueOutput{},
			wantErr: ErrSecretEmpty,
		},
		{
			name:    "missing secret",
			secret:  "absent",
			apiErr:  &apiError{code: "ResourceNotFoundException"},
			wantErr: ErrSecretNotFound,
		},
		{
			name:    "access denied",
			secret:  "forbidden",
			apiErr:  &apiError{code: "AccessDeniedException"},
			wantErr: ErrAccessDenied,
		},
		{
			name:    "empty name",
			secret:  "",
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockManagerAPI{
				getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					assert.Equal(t, tt.secret, aws.ToString(params.SecretId))
					if tt.apiErr != nil {
						return nil, tt.apiErr
					}
					return tt.output, nil
				},
			}
			client := NewWithAPI(mock)

			got, err := client.GetSecret(context.Background(), tt.secret)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetSecretJSON(t *testing.T) {
	mock := &mockManagerAPI{
		getSecretValueFunc: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{
				SecretString: aws.String(`{"username":"app","password":"pw","host":"db.internal","port":5432}`),
			}, nil
		},
	}
	client := NewWithAPI(mock)

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
	}
	require.NoError(t, client.GetSecretJSON(context.Background(), "db-creds", &creds))
	assert.Equal(t, "app", creds.Username)
	assert.Equal(t, 5432, creds.Port)
}

func TestGetSecretJSONInvalid(t *testing.T) {
	mock := &mockManagerAPI{
		getSecretValueFunc: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("not json")}, nil
		},
	}
	client := NewWithAPI(mock)

	var out map[string]string
	err := client.GetSecretJSON(context.Background(), "bad", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestPutSecretInvalidatesCache(t *testing.T) {
	calls := 0
	mock := &mockManagerAPI{
		getSecretValueFunc: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			calls++
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("value")}, nil
		},
	}
	cache := NewInMemoryCache(time.Minute, 0)
	client := NewWithAPI(mock, WithCache(cache))
	ctx := context.Background()

	_, err := client.GetSecretCached(ctx, "name")
	require.NoError(t, err)
	_, err = client.GetSecretCached(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	require.NoError(t, client.PutSecret(ctx, "name", "new-value"))

	_, err = client.GetSecretCached(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetSecretCachedWithoutCache(t *testing.T) {
	calls := 0
	mock := &mockManagerAPI{
		getSecretValueFunc: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			calls++
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("value")}, nil
		},
	}
	client := NewWithAPI(mock)

	for i := 0; i < 3; i++ {
		_, err := client.GetSecretCached(context.Background(), "name")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestInvalidate(t *testing.T) {
	calls := 0
	mock := &mockManagerAPI{
		getSecretValueFunc: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			calls++
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("value")}, nil
		},
	}
	client := NewWithAPI(mock, WithCache(NewInMemoryCache(time.Minute, 0)))
	ctx := context.Background()

	_, _ = client.GetSecretCached(ctx, "name")
	client.Invalidate("name")
	_, _ = client.GetSecretCached(ctx, "name")
	assert.Equal(t, 2, calls)
}

func TestCreateSecretWithKMSKey(t *testing.T) {
	var captured *secretsmanager.CreateSecretInput
	mock := &mockManagerAPI{
		createSecretFunc: func(_ context.Context, params *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
			captured = params
			return &secretsmanager.CreateSecretOutput{}, nil
		},
	}
	client := NewWithAPI(mock)

	require.NoError(t, client.CreateSecret(context.Background(), "name", "value", "alias/custom-key"))
	require.NotNil(t, captured)
	assert.Equal(t, "alias/custom-key", aws.ToString(captured.KmsKeyId))
}

func TestInMemoryCacheTTL(t *testing.T) {
	cache := NewInMemoryCache(10*time.Millisecond, 0)
	cache.Set("key", "value", 0)

	got, ok := cache.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get("key")
	assert.False(t, ok)
}

func TestInMemoryCacheEviction(t *testing.T) {
	cache := NewInMemoryCache(time.Minute, 2)
	cache.Set("a", "1", time.Second)
	cache.Set("b", "2", time.Minute)
	cache.Set("c", "3", time.Minute)

	// "a" expires first, so it is the eviction candidate.
	_, ok := cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("b")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
}

func TestCustomRetryer(t *testing.T) {
	retryer := NewCustomRetryer(3, 100*time.Millisecond, time.Second)

	assert.Equal(t, 3, retryer.MaxAttempts())
	assert.True(t, retryer.IsErrorRetryable(&apiError{code: "ThrottlingException"}))
	assert.False(t, retryer.IsErrorRetryable(&apiError{code: "AccessDeniedException"}))
	assert.False(t, retryer.IsErrorRetryable(nil))

	delay, err := retryer.RetryDelay(5, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, delay, time.Second)
}
