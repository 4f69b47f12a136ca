package cloud

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// =============================================================================
// Load Balancer (ALB)
// =============================================================================

type loadBalancerClient struct {
	aws *awsClients
}

func (c *loadBalancerClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.elb.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		Names: []string{attrs["lb_name"]},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe load balancer %s: %w", attrs["lb_name"], err)
	}
	if len(out.LoadBalancers) == 0 {
		return nil, nil
	}

	lb := out.LoadBalancers[0]
	arn := aws.ToString(lb.LoadBalancerArn)

	subnets := make([]string, 0, len(lb.AvailabilityZones))
	for _, az := range lb.AvailabilityZones {
		subnets = append(subnets, aws.ToString(az.SubnetId))
	}

	observed := map[string]string{
		"lb_name":    attrs["lb_name"],
		"scheme":     string(lb.Scheme),
		"subnet_ids": strings.Join(subnets, ","),
		"sg_id":      strings.Join(lb.SecurityGroups, ","),
	}
	if port, tgARN, err := c.observeListener(ctx, arn); err == nil && port != "" {
		observed["listener_port"] = port
		observed["target_group_arn"] = tgARN
	}

	return &Remote{
		ID:         arn,
		Attributes: observed,
		Outputs: map[string]string{
			"lb_arn": arn,
			"lb_dns": aws.ToString(lb.DNSName),
		},
	}, nil
}

func (c *loadBalancerClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.elb.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           aws.String(attrs["lb_name"]),
		Type:           elbv2types.LoadBalancerTypeEnumApplication,
		Scheme:         elbv2types.LoadBalancerSchemeEnum(strOrDefault(attrs, "scheme", "internet-facing")),
		Subnets:        splitList(attrs["subnet_ids"]),
		SecurityGroups: splitList(attrs["sg_id"]),
		Tags: []elbv2types.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String("ManagedBy"), Value: aws.String(managedByTag)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create load balancer %s: %w", attrs["lb_name"], err)
	}
	if len(out.LoadBalancers) == 0 {
		return nil, fmt.Errorf("no load balancer returned for %s", attrs["lb_name"])
	}

	lb := out.LoadBalancers[0]
	arn := aws.ToString(lb.LoadBalancerArn)

	if attrs["target_group_arn"] != "" {
		if err := c.createListener(ctx, arn, attrs); err != nil {
			return nil, err
		}
	}

	c.aws.logger.Info("load balancer created",
		"name", name, "lb_dns", aws.ToString(lb.DNSName))
	return &Remote{
		ID:         arn,
		Attributes: attrs,
		Outputs: map[string]string{
			"lb_arn": arn,
			"lb_dns": aws.ToString(lb.DNSName),
		},
	}, nil
}

func (c *loadBalancerClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	if attrs["sg_id"] != "" {
		_, err := c.aws.elb.SetSecurityGroups(ctx, &elbv2.SetSecurityGroupsInput{
			LoadBalancerArn: aws.String(remoteID),
			SecurityGroups:  splitList(attrs["sg_id"]),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set security groups on %s: %w", remoteID, err)
		}
	}
	if attrs["subnet_ids"] != "" {
		_, err := c.aws.elb.SetSubnets(ctx, &elbv2.SetSubnetsInput{
			LoadBalancerArn: aws.String(remoteID),
			Subnets:         splitList(attrs["subnet_ids"]),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set subnets on %s: %w", remoteID, err)
		}
	}
	return c.Observe(ctx, remoteID, attrs)
}

func (c *loadBalancerClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.elb.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: aws.String(remoteID),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete load balancer %s: %w", remoteID, err)
	}
	return nil
}

func (c *loadBalancerClient) observeListener(ctx context.Context, lbARN string) (port, tgARN string, err error) {
	out, err := c.aws.elb.DescribeListeners(ctx, &elbv2.DescribeListenersInput{
		LoadBalancerArn: aws.String(lbARN),
	})
	if err != nil || len(out.Listeners) == 0 {
		return "", "", err
	}
	l := out.Listeners[0]
	if l.Port != nil {
		port = strconv.Itoa(int(*l.Port))
	}
	for _, action := range l.DefaultActions {
		if action.TargetGroupArn != nil {
			tgARN = aws.ToString(action.TargetGroupArn)
		}
	}
	return port, tgARN, nil
}

func (c *loadBalancerClient) createListener(ctx context.Context, lbARN string, attrs map[string]string) error {
	port, err := strconv.Atoi(strOrDefault(attrs, "listener_port", "80"))
	if err != nil {
		return fmt.Errorf("invalid listener_port %q: %w", attrs["listener_port"], err)
	}
	_, err = c.aws.elb.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: aws.String(lbARN),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            aws.Int32(int32(port)),
		DefaultActions: []elbv2types.Action{{
			Type:           elbv2types.ActionTypeEnumForward,
			TargetGroupArn: aws.String(attrs["target_group_arn"]),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create listener on %s: %w", lbARN, err)
	}
	return nil
}

// =============================================================================
// Target Group
// =============================================================================

type targetGroupClient struct {
	aws *awsClients
}

func (c *targetGroupClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.elb.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		Names: []string{attrs["tg_name"]},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe target group %s: %w", attrs["tg_name"], err)
	}
	if len(out.TargetGroups) == 0 {
		return nil, nil
	}

	tg := out.TargetGroups[0]
	arn := aws.ToString(tg.TargetGroupArn)
	observed := map[string]string{
		"tg_name":           attrs["tg_name"],
		"vpc_id":            aws.ToString(tg.VpcId),
		"protocol":          string(tg.Protocol),
		"health_check_path": aws.ToString(tg.HealthCheckPath),
	}
	if tg.Port != nil {
		observed["port"] = strconv.Itoa(int(*tg.Port))
	}

	return &Remote{
		ID:         arn,
		Attributes: observed,
		Outputs:    map[string]string{"tg_arn": arn},
	}, nil
}

func (c *targetGroupClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	port, err := strconv.Atoi(strOrDefault(attrs, "port", "80"))
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", attrs["port"], err)
	}

	out, err := c.aws.elb.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:            aws.String(attrs["tg_name"]),
		VpcId:           aws.String(attrs["vpc_id"]),
		Protocol:        elbv2types.ProtocolEnum(strOrDefault(attrs, "protocol", "HTTP")),
		Port:            aws.Int32(int32(port)),
		TargetType:      elbv2types.TargetTypeEnumIp,
		HealthCheckPath: aws.String(strOrDefault(attrs, "health_check_path", "/health")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create target group %s: %w", attrs["tg_name"], err)
	}
	if len(out.TargetGroups) == 0 {
		return nil, fmt.Errorf("no target group returned for %s", attrs["tg_name"])
	}

	arn := aws.ToString(out.TargetGroups[0].TargetGroupArn)
	c.aws.logger.Info("target group created", "name", name, "tg_arn", arn)
	return &Remote{
		ID:         arn,
		Attributes: attrs,
		Outputs:    map[string]string{"tg_arn": arn},
	}, nil
}

func (c *targetGroupClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	_, err := c.aws.elb.ModifyTargetGroup(ctx, &elbv2.ModifyTargetGroupInput{
		TargetGroupArn:  aws.String(remoteID),
		HealthCheckPath: aws.String(strOrDefault(attrs, "health_check_path", "/health")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to modify target group %s: %w", remoteID, err)
	}
	return c.Observe(ctx, remoteID, attrs)
}

func (c *targetGroupClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.elb.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
		TargetGroupArn: aws.String(remoteID),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete target group %s: %w", remoteID, err)
	}
	return nil
}
