package awsx_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/halocore099/phone-repair-dashboard/awsx"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- mock APIs ----

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, m.err
}

type mockSecrets struct {
	values map[string]string
	calls  int
}

func (m *mockSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	v, ok := m.values[*in.SecretId]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

type mockSNS struct {
	inputs []*sns.PublishInput
}

func (m *mockSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

type mockLogs struct {
	groupErr error
	events   []logtypes.InputLogEvent
	streams  []string
	putErr   error
}

func (m *mockLogs) CreateLogGroup(_ context.Context, _ *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	return &cloudwatchlogs.CreateLogGroupOutput{}, m.groupErr
}
func (m *mockLogs) PutRetentionPolicy(_ context.Context, _ *cloudwatchlogs.PutRetentionPolicyInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}
func (m *mockLogs) CreateLogStream(_ context.Context, in *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	m.streams = append(m.streams, *in.LogStreamName)
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}
func (m *mockLogs) PutLogEvents(_ context.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	m.events = append(m.events, in.LogEvents...)
	return &cloudwatchlogs.PutLogEventsOutput{}, m.putErr
}

// ---- tests ----

func TestMetricsClient_Disabled(t *testing.T) {
	api := &mockCloudWatch{}
	m := awsx.NewMetricsClient(api, "", false)

	assert.False(t, m.IsEnabled())
	assert.NoError(t, m.RecordCount(context.Background(), awsx.MetricSyncCreated, nil))
	assert.Empty(t, api.inputs)
}

func TestMetricsClient_RecordValue(t *testing.T) {
	api := &mockCloudWatch{}
	m := awsx.NewMetricsClient(api, "", true)

	err := m.RecordValue(context.Background(), awsx.MetricSyncUpdated, 4, map[string]string{"Service": "catalog-sync", "DryRun": "false"})
	require.NoError(t, err)
	require.Len(t, api.inputs, 1)

	in := api.inputs[0]
	assert.Equal(t, awsx.DefaultNamespace, *in.Namespace)
	require.Len(t, in.MetricData, 1)
	datum := in.MetricData[0]
	assert.Equal(t, awsx.MetricSyncUpdated, *datum.MetricName)
	assert.Equal(t, 4.0, *datum.Value)
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	require.Len(t, datum.Dimensions, 2)
	assert.Equal(t, "DryRun", *datum.Dimensions[0].Name)
	assert.Equal(t, "Service", *datum.Dimensions[1].Name)
}

func TestMetricsClient_Error(t *testing.T) {
	m := awsx.NewMetricsClient(&mockCloudWatch{err: errors.New("throttled")}, "X", true)
	err := m.RecordCount(context.Background(), awsx.MetricHTTPRequests, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestMetricsClient_NilIsDisabled(t *testing.T) {
	var m *awsx.MetricsClient
	assert.False(t, m.IsEnabled())
}

func TestSecretsClient_CachesAndParses(t *testing.T) {
	api := &mockSecrets{values: map[string]string{
		"catalog-sync/DB_CREDENTIALS": `{"POSTGRES_USER":"shop","POSTGRES_PASSWORD":"pw"}`,
		"plain":                       "not json",
	}}
	sc := awsx.NewSecretsClient(api)

	m, err := sc.GetSecretMap(context.Background(), "catalog-sync/DB_CREDENTIALS")
	require.NoError(t, err)
	assert.Equal(t, "shop", m["POSTGRES_USER"])

	_, err = sc.GetSecret(context.Background(), "catalog-sync/DB_CREDENTIALS")
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls)

	_, err = sc.GetSecretMap(context.Background(), "plain")
	assert.Error(t, err)

	_, err = sc.GetSecret(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSNSClient_Publish(t *testing.T) {
	api := &mockSNS{}
	c := awsx.NewSNSClient(api, "catalog_sync_completed")

	err := c.Publish(context.Background(), "arn:aws:sns:eu-central-1:000000000000:sync", []byte(`{"created":1}`))
	require.NoError(t, err)
	require.Len(t, api.inputs, 1)
	assert.Equal(t, `{"created":1}`, *api.inputs[0].Message)
	assert.Equal(t, "catalog_sync_completed", *api.inputs[0].MessageAttributes["event_type"].StringValue)

	assert.Error(t, c.Publish(context.Background(), "", []byte("x")))
}

func TestCloudWatchLogsClient_Write(t *testing.T) {
	api := &mockLogs{groupErr: &logtypes.ResourceAlreadyExistsException{Message: aws.String("exists")}}
	c, err := awsx.NewCloudWatchLogsClient(context.Background(), api, "", "catalog-sync")
	require.NoError(t, err)
	require.Len(t, api.streams, 1)
	assert.Equal(t, c.StreamName(), api.streams[0])

	n, err := c.Write([]byte(`{"msg":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, 15, n)
	require.Len(t, api.events, 1)
	assert.Equal(t, `{"msg":"hello"}`, *api.events[0].Message)

	api.putErr = errors.New("network down")
	_, err = c.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestCloudWatchLogsClient_GroupFailure(t *testing.T) {
	api := &mockLogs{groupErr: errors.New("AccessDenied")}
	_, err := awsx.NewCloudWatchLogsClient(context.Background(), api, "/x", "catalog-sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log group")
}

type mockS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.input = in
	b, _ := io.ReadAll(in.Body)
	m.body = string(b)
	return &s3.PutObjectOutput{}, m.err
}

func TestS3Store_PutJSON(t *testing.T) {
	api := &mockS3{}
	store := awsx.NewS3Store(api, "reports")

	require.NoError(t, store.PutJSON(context.Background(), "sync-reports/run-1.json", []byte(`{"ok":true}`)))
	assert.Equal(t, "reports", aws.ToString(api.input.Bucket))
	assert.Equal(t, "sync-reports/run-1.json", aws.ToString(api.input.Key))
	assert.Equal(t, "application/json", aws.ToString(api.input.ContentType))
	assert.Equal(t, `{"ok":true}`, api.body)
}

func TestS3Store_Errors(t *testing.T) {
	assert.Error(t, awsx.NewS3Store(&mockS3{}, "").PutJSON(context.Background(), "k", nil))

	err := awsx.NewS3Store(&mockS3{err: errors.New("denied")}, "reports").PutJSON(context.Background(), "k", []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
