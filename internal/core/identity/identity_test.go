package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func federatedTrust() TrustSpec {
	return TrustSpec{
		Kind:            PrincipalFederated,
		OIDCProviderARN: "arn:aws:iam::123456789012:oidc-provider/oidc.eks.eu-west-1.amazonaws.com/id/ABCDEF",
		OIDCIssuer:      "oidc.eks.eu-west-1.amazonaws.com/id/ABCDEF",
		Namespace:       "app",
		ServiceAccount:  "api",
		Audience:        FederationAudience,
	}
}

func TestServiceAccountSubject(t *testing.T) {
	assert.Equal(t, "system:serviceaccount:app:api", ServiceAccountSubject("app", "api"))
}

func TestTrustSpec_ValidateService(t *testing.T) {
	ts := TrustSpec{Kind: PrincipalService, ServicePrincipal: TaskServicePrincipal}
	assert.NoError(t, ts.Validate())

	ts.ServicePrincipal = ""
	assert.ErrorIs(t, ts.Validate(), ErrInvalidTrustCondition)
}

func TestTrustSpec_ValidateFederated(t *testing.T) {
	assert.NoError(t, federatedTrust().Validate())
}

func TestTrustSpec_WrongAudienceRejected(t *testing.T) {
	ts := federatedTrust()
	ts.Audience = "example.com"
	assert.ErrorIs(t, ts.Validate(), ErrInvalidTrustCondition)

	ts.Audience = ""
	assert.ErrorIs(t, ts.Validate(), ErrInvalidTrustCondition)
}

func TestTrustSpec_WildcardSubjectRejected(t *testing.T) {
	ts := federatedTrust()
	ts.ServiceAccount = "*"
	assert.ErrorIs(t, ts.Validate(), ErrInvalidTrustCondition)

	ts = federatedTrust()
	ts.Namespace = "app *"
	assert.ErrorIs(t, ts.Validate(), ErrInvalidTrustCondition)
}

func TestTrustSpec_MissingSubjectRejected(t *testing.T) {
	ts := federatedTrust()
	ts.ServiceAccount = ""
	assert.ErrorIs(t, ts.Validate(), ErrInvalidTrustCondition)
}

func TestTrustSpec_FederatedDocument(t *testing.T) {
	doc, err := federatedTrust().Document()
	require.NoError(t, err)

	var parsed struct {
		Version   string
		Statement []struct {
			Effect    string
			Action    string
			Condition map[string]map[string]string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	require.Len(t, parsed.Statement, 1)
	assert.Equal(t, "sts:AssumeRoleWithWebIdentity", parsed.Statement[0].Action)

	cond := parsed.Statement[0].Condition["StringEquals"]
	assert.Equal(t, "system:serviceaccount:app:api", cond["oidc.eks.eu-west-1.amazonaws.com/id/ABCDEF:sub"])
	assert.Equal(t, "sts.amazonaws.com", cond["oidc.eks.eu-west-1.amazonaws.com/id/ABCDEF:aud"])
}

func TestDerivePermissions(t *testing.T) {
	outputs := map[string]string{
		"bucket_arn": "arn:aws:s3:::app-store",
		"topic_arn":  "arn:aws:sns:eu-west-1:123456789012:app-events",
		"queue_arn":  "arn:aws:sqs:eu-west-1:123456789012:app-jobs",
	}
	ps, err := DerivePermissions(outputs, "uploads")
	require.NoError(t, err)
	assert.Equal(t, outputs["bucket_arn"], ps.BucketARN)
	assert.Equal(t, outputs["queue_arn"], ps.QueueARN)
}

func TestDerivePermissions_MissingOutput(t *testing.T) {
	_, err := DerivePermissions(map[string]string{"bucket_arn": "arn:aws:s3:::x"}, "")
	assert.ErrorIs(t, err, ErrMissingTopologyOutput)
}

func TestPermissionSet_Document(t *testing.T) {
	ps := PermissionSet{
		BucketARN: "arn:aws:s3:::app-store",
		Prefix:    "uploads",
		TopicARN:  "arn:aws:sns:eu-west-1:123456789012:app-events",
		QueueARN:  "arn:aws:sqs:eu-west-1:123456789012:app-jobs",
	}
	doc, err := ps.Document()
	require.NoError(t, err)

	assert.Contains(t, doc, `"arn:aws:s3:::app-store/uploads/*"`)
	assert.Contains(t, doc, `"sns:Publish"`)
	assert.Contains(t, doc, `"sqs:ReceiveMessage"`)
	assert.NotContains(t, doc, `"*"`)
}
