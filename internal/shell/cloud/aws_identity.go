package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/stackform/stackform/internal/core/identity"
)

// =============================================================================
// Execution Role (IAM)
// =============================================================================

type roleClient struct {
	aws *awsClients
}

func trustSpecFromAttrs(attrs map[string]string) identity.TrustSpec {
	return identity.TrustSpec{
		Kind:             identity.PrincipalKind(attrs["trust_kind"]),
		ServicePrincipal: attrs["service_principal"],
		OIDCProviderARN:  attrs["oidc_provider_arn"],
		OIDCIssuer:       attrs["oidc_issuer"],
		Namespace:        attrs["namespace"],
		ServiceAccount:   attrs["service_account"],
		Audience:         attrs["audience"],
	}
}

func (c *roleClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(attrs["role_name"])})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get role %s: %w", attrs["role_name"], err)
	}

	observed := map[string]string{"role_name": attrs["role_name"]}

	// IAM returns the trust policy URL-encoded. The spec fields only exist
	// in the declaration, so carry them through when the rendered document
	// matches what we would write.
	declared, err := trustSpecFromAttrs(attrs).Document()
	if err == nil {
		remote, decErr := url.QueryUnescape(aws.ToString(out.Role.AssumeRolePolicyDocument))
		if decErr == nil && jsonEqual(remote, declared) {
			for _, key := range []string{
				"trust_kind", "service_principal", "oidc_provider_arn",
				"oidc_issuer", "namespace", "service_account", "audience",
			} {
				if v, ok := attrs[key]; ok {
					observed[key] = v
				}
			}
		}
	}

	return &Remote{
		ID:         aws.ToString(out.Role.RoleName),
		Attributes: observed,
		Outputs: map[string]string{
			"role_arn":  aws.ToString(out.Role.Arn),
			"role_name": aws.ToString(out.Role.RoleName),
		},
	}, nil
}

func (c *roleClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	spec := trustSpecFromAttrs(attrs)
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("role %s: %w", attrs["role_name"], err)
	}
	doc, err := spec.Document()
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", attrs["role_name"], err)
	}

	out, err := c.aws.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(attrs["role_name"]),
		AssumeRolePolicyDocument: aws.String(doc),
		Tags: []iamtypes.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String("ManagedBy"), Value: aws.String(managedByTag)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", attrs["role_name"], err)
	}

	c.aws.logger.Info("execution role created",
		"name", name, "role_arn", aws.ToString(out.Role.Arn))
	return &Remote{
		ID:         attrs["role_name"],
		Attributes: attrs,
		Outputs: map[string]string{
			"role_arn":  aws.ToString(out.Role.Arn),
			"role_name": attrs["role_name"],
		},
	}, nil
}

func (c *roleClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	spec := trustSpecFromAttrs(attrs)
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("role %s: %w", remoteID, err)
	}
	doc, err := spec.Document()
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", remoteID, err)
	}

	_, err = c.aws.iam.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName:       aws.String(remoteID),
		PolicyDocument: aws.String(doc),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update trust policy of role %s: %w", remoteID, err)
	}
	return c.Observe(ctx, remoteID, attrs)
}

func (c *roleClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete role %s: %w", remoteID, err)
	}
	return nil
}

// =============================================================================
// Role Policy (inline permissions)
// =============================================================================

type rolePolicyClient struct {
	aws *awsClients
}

func (c *rolePolicyClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.iam.GetRolePolicy(ctx, &iam.GetRolePolicyInput{
		RoleName:   aws.String(attrs["role_name"]),
		PolicyName: aws.String(attrs["policy_name"]),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get policy %s of role %s: %w",
			attrs["policy_name"], attrs["role_name"], err)
	}

	observed := map[string]string{
		"role_name":   attrs["role_name"],
		"policy_name": attrs["policy_name"],
	}
	declared, err := c.renderPolicy(attrs)
	if err == nil {
		remote, decErr := url.QueryUnescape(aws.ToString(out.PolicyDocument))
		if decErr == nil && jsonEqual(remote, declared) {
			for _, key := range []string{"bucket_arn", "topic_arn", "queue_arn", "prefix"} {
				if v, ok := attrs[key]; ok {
					observed[key] = v
				}
			}
		}
	}

	id := attrs["role_name"] + "/" + attrs["policy_name"]
	return &Remote{
		ID:         id,
		Attributes: observed,
		Outputs:    map[string]string{"policy_name": attrs["policy_name"]},
	}, nil
}

func (c *rolePolicyClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	doc, err := c.renderPolicy(attrs)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", attrs["policy_name"], err)
	}

	_, err = c.aws.iam.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(attrs["role_name"]),
		PolicyName:     aws.String(attrs["policy_name"]),
		PolicyDocument: aws.String(doc),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put policy %s on role %s: %w",
			attrs["policy_name"], attrs["role_name"], err)
	}

	c.aws.logger.Info("role policy attached",
		"name", name, "role_name", attrs["role_name"], "policy_name", attrs["policy_name"])
	return &Remote{
		ID:         attrs["role_name"] + "/" + attrs["policy_name"],
		Attributes: attrs,
		Outputs:    map[string]string{"policy_name": attrs["policy_name"]},
	}, nil
}

func (c *rolePolicyClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	// PutRolePolicy overwrites, so update and create are the same call.
	return c.Create(ctx, "", attrs)
}

func (c *rolePolicyClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(attrs["role_name"]),
		PolicyName: aws.String(attrs["policy_name"]),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete policy %s: %w", remoteID, err)
	}
	return nil
}

func (c *rolePolicyClient) renderPolicy(attrs map[string]string) (string, error) {
	perms, err := identity.DerivePermissions(attrs, attrs["prefix"])
	if err != nil {
		return "", err
	}
	return perms.Document()
}

// jsonEqual compares two JSON documents structurally.
func jsonEqual(a, b string) bool {
	var av, bv any
	if json.Unmarshal([]byte(a), &av) != nil || json.Unmarshal([]byte(b), &bv) != nil {
		return false
	}
	ac, errA := json.Marshal(av)
	bc, errB := json.Marshal(bv)
	return errA == nil && errB == nil && string(ac) == string(bc)
}
