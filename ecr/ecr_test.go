package ecr

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PyYel/golcloud/internal/executor"
)

type mockSTS struct {
	getCallerIdentityFunc func(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
	calls                 int
}

func (m *mockSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	m.calls++
	if m.getCallerIdentityFunc != nil {
		return m.getCallerIdentityFunc(ctx, params, optFns...)
	}
	return &sts.GetCallerIdentityOutput{Account: aws.String("123456789012")}, nil
}

type mockECR struct {
	describeFunc func(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	createFunc   func(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	tokenFunc    func(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

func (m *mockECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	if m.describeFunc != nil {
		return m.describeFunc(ctx, params, optFns...)
	}
	return &ecr.DescribeRepositoriesOutput{}, nil
}

func (m *mockECR) CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, params, optFns...)
	}
	return &ecr.CreateRepositoryOutput{}, nil
}

func (m *mockECR) GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	if m.tokenFunc != nil {
		return m.tokenFunc(ctx, params, optFns...)
	}
	return &ecr.GetAuthorizationTokenOutput{}, nil
}

// fakeDocker records the docker invocations instead of running them.
type fakeDocker struct {
	commands [][]string
}

func (f *fakeDocker) Run(_ context.Context, args []string, _ ...executor.Option) (*executor.Result, error) {
	f.commands = append(f.commands, args)
	return &executor.Result{ExitCode: 0}, nil
}

func authToken(user, pass string) *ecr.GetAuthorizationTokenOutput {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return &ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{
			{AuthorizationToken: aws.String(token)},
		},
	}
}

func TestAccountIDCached(t *testing.T) {
	stsAPI := &mockSTS{}
	client := NewWithAPI(stsAPI, &mockECR{}, "eu-west-1")

	id, err := client.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id)

	_, err = client.AccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stsAPI.calls)
}

func TestRegistryAndImageURI(t *testing.T) {
	client := NewWithAPI(&mockSTS{}, &mockECR{}, "eu-west-1")

	registry, err := client.RegistryURI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com", registry)

	uri, err := client.ImageURI(context.Background(), "backend", "v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/backend:v1.2.0", uri)

	uri, err = client.ImageURI(context.Background(), "backend", "")
	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/backend:latest", uri)

	_, err = client.ImageURI(context.Background(), "", "v1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEnsureRepositoryCreatesMissing(t *testing.T) {
	var created string
	ecrAPI := &mockECR{
		describeFunc: func(_ context.Context, _ *ecr.DescribeRepositoriesInput, _ ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
			return nil, &ecrtypes.RepositoryNotFoundException{}
		},
		createFunc: func(_ context.Context, params *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
			created = aws.ToString(params.RepositoryName)
			return &ecr.CreateRepositoryOutput{}, nil
		},
	}
	client := NewWithAPI(&mockSTS{}, ecrAPI, "eu-west-1")

	require.NoError(t, client.EnsureRepository(context.Background(), "backend"))
	assert.Equal(t, "backend", created)
}

func TestEnsureRepositoryExisting(t *testing.T) {
	ecrAPI := &mockECR{
		createFunc: func(_ context.Context, _ *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
			t.Fatal("create should not be called for an existing repository")
			return nil, nil
		},
	}
	client := NewWithAPI(&mockSTS{}, ecrAPI, "eu-west-1")

	require.NoError(t, client.EnsureRepository(context.Background(), "backend"))
}

func TestAuthToken(t *testing.T) {
	ecrAPI := &mockECR{
		tokenFunc: func(_ context.Context, _ *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
			return authToken("AWS", "s3cr3t"), nil
		},
	}
	client := NewWithAPI(&mockSTS{}, ecrAPI, "eu-west-1")

	user, pass, err := client.AuthToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AWS", user)
	assert.Equal(t, "s3cr3t", pass)
}

func TestAuthTokenNoData(t *testing.T) {
	client := NewWithAPI(&mockSTS{}, &mockECR{}, "eu-west-1")

	_, _, err := client.AuthToken(context.Background())
	assert.ErrorIs(t, err, ErrNoAuthData)
}

func TestPushImage(t *testing.T) {
	docker := &fakeDocker{}
	ecrAPI := &mockECR{
		tokenFunc: func(_ context.Context, _ *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
			return authToken("AWS", "s3cr3t"), nil
		},
	}
	client := NewWithAPI(&mockSTS{}, ecrAPI, "eu-west-1", WithDockerRunner(docker))

	uri, err := client.PushImage(context.Background(), "backend:dev", "backend", "v1")
	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/backend:v1", uri)

	require.Len(t, docker.commands, 3)
	assert.Equal(t, []string{"tag", "backend:dev", uri}, docker.commands[0])
	assert.Equal(t, []string{
		"login", "--username", "AWS", "--password-stdin",
		"123456789012.dkr.ecr.eu-west-1.amazonaws.com",
	}, docker.commands[1])
	assert.Equal(t, []string{"push", uri}, docker.commands[2])
}

func TestPullCommands(t *testing.T) {
	client := NewWithAPI(&mockSTS{}, &mockECR{}, "eu-west-1")

	commands, err := client.PullCommands(context.Background(), "backend", "v1")
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Contains(t, commands[0], "get-login-password --region eu-west-1")
	assert.Contains(t, commands[0], "docker login --username AWS --password-stdin 123456789012.dkr.ecr.eu-west-1.amazonaws.com")
	assert.Equal(t, "docker pull 123456789012.dkr.ecr.eu-west-1.amazonaws.com/backend:v1", commands[1])
}

func TestSplitReference(t *testing.T) {
	tests := []struct {
		full     string
		repoPath string
		refPart  string
	}{
		{"localhost:5000/myrepo:latest", "localhost:5000/myrepo", "latest"},
		{"123456789012.dkr.ecr.eu-west-1.amazonaws.com/backend:v1", "123456789012.dkr.ecr.eu-west-1.amazonaws.com/backend", "v1"},
		{"ghcr.io/org/name@sha256:abcd", "ghcr.io/org/name", "sha256:abcd"},
		{"ghcr.io/org/name", "ghcr.io/org/name", ""},
	}

	for _, tt := range tests {
		repoPath, refPart := splitReference(tt.full)
		assert.Equal(t, tt.repoPath, repoPath, tt.full)
		assert.Equal(t, tt.refPart, refPart, tt.full)
	}
}
