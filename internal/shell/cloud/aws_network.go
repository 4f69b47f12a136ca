package cloud

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// =============================================================================
// VPC
// =============================================================================

type vpcClient struct {
	aws *awsClients
}

func (c *vpcClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: managedFilters(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe VPC %s: %w", name, err)
	}
	if len(out.Vpcs) == 0 {
		return nil, nil
	}

	vpc := out.Vpcs[0]
	id := aws.ToString(vpc.VpcId)
	return &Remote{
		ID:         id,
		Attributes: map[string]string{"cidr_block": aws.ToString(vpc.CidrBlock)},
		Outputs:    map[string]string{"vpc_id": id},
	}, nil
}

func (c *vpcClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ec2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(attrs["cidr_block"]),
		TagSpecifications: managedTags(ec2types.ResourceTypeVpc, name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC %s: %w", name, err)
	}

	id := aws.ToString(out.Vpc.VpcId)
	c.aws.logger.Info("VPC created", "name", name, "vpc_id", id)
	return &Remote{
		ID:         id,
		Attributes: map[string]string{"cidr_block": attrs["cidr_block"]},
		Outputs:    map[string]string{"vpc_id": id},
	}, nil
}

func (c *vpcClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	return nil, fmt.Errorf("VPC %s has no attributes that can change in place", remoteID)
}

func (c *vpcClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(remoteID)})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete VPC %s: %w", remoteID, err)
	}
	return nil
}

// =============================================================================
// Subnets
// =============================================================================

// subnetClient provisions one subnet per declared CIDR. The remote ID and
// the subnet_ids output are comma-joined in declaration order so consumers
// get a stable list.
type subnetClient struct {
	aws *awsClients
}

func (c *subnetClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: managedFilters(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe subnets %s: %w", name, err)
	}
	if len(out.Subnets) == 0 {
		return nil, nil
	}

	byCIDR := make(map[string]ec2types.Subnet, len(out.Subnets))
	for _, sn := range out.Subnets {
		byCIDR[aws.ToString(sn.CidrBlock)] = sn
	}

	var ids, cidrs, zones []string
	for _, cidr := range splitList(attrs["cidr_blocks"]) {
		sn, ok := byCIDR[cidr]
		if !ok {
			continue
		}
		ids = append(ids, aws.ToString(sn.SubnetId))
		cidrs = append(cidrs, cidr)
		zones = append(zones, aws.ToString(sn.AvailabilityZone))
	}
	if len(ids) != len(splitList(attrs["cidr_blocks"])) {
		// Partial set means a previous create was interrupted; report absent
		// so the reconciler recreates the missing subnets.
		return nil, nil
	}

	observed := map[string]string{
		"vpc_id":             aws.ToString(out.Subnets[0].VpcId),
		"cidr_blocks":        strings.Join(cidrs, ","),
		"availability_zones": strings.Join(zones, ","),
	}
	return &Remote{
		ID:         strings.Join(ids, ","),
		Attributes: observed,
		Outputs:    map[string]string{"subnet_ids": strings.Join(ids, ",")},
	}, nil
}

func (c *subnetClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	cidrs := splitList(attrs["cidr_blocks"])
	zones := splitList(attrs["availability_zones"])
	if len(cidrs) == 0 {
		return nil, fmt.Errorf("subnet %s: cidr_blocks is required", name)
	}

	ids := make([]string, 0, len(cidrs))
	for i, cidr := range cidrs {
		in := &ec2.CreateSubnetInput{
			VpcId:             aws.String(attrs["vpc_id"]),
			CidrBlock:         aws.String(cidr),
			TagSpecifications: managedTags(ec2types.ResourceTypeSubnet, name),
		}
		if i < len(zones) {
			in.AvailabilityZone = aws.String(zones[i])
		}
		out, err := c.aws.ec2.CreateSubnet(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to create subnet %s (%s): %w", name, cidr, err)
		}
		ids = append(ids, aws.ToString(out.Subnet.SubnetId))
	}

	c.aws.logger.Info("subnets created", "name", name, "count", len(ids))
	return &Remote{
		ID:         strings.Join(ids, ","),
		Attributes: attrs,
		Outputs:    map[string]string{"subnet_ids": strings.Join(ids, ",")},
	}, nil
}

func (c *subnetClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	return nil, fmt.Errorf("subnets %s have no attributes that can change in place", remoteID)
}

func (c *subnetClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	for _, id := range splitList(remoteID) {
		_, err := c.aws.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
		if err != nil && !IsNotFound(err) {
			return fmt.Errorf("failed to delete subnet %s: %w", id, err)
		}
	}
	return nil
}

// =============================================================================
// Security Group
// =============================================================================

type securityGroupClient struct {
	aws *awsClients
}

func (c *securityGroupClient) Observe(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: managedFilters(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe security group %s: %w", name, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}

	sg := out.SecurityGroups[0]
	ports := make([]string, 0, len(sg.IpPermissions))
	for _, perm := range sg.IpPermissions {
		if perm.FromPort != nil {
			ports = append(ports, strconv.Itoa(int(*perm.FromPort)))
		}
	}

	id := aws.ToString(sg.GroupId)
	return &Remote{
		ID: id,
		Attributes: map[string]string{
			"vpc_id":        aws.ToString(sg.VpcId),
			"ingress_ports": strings.Join(ports, ","),
		},
		Outputs: map[string]string{"sg_id": id},
	}, nil
}

func (c *securityGroupClient) Create(ctx context.Context, name string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(name),
		Description:       aws.String("stackform managed - " + name),
		VpcId:             aws.String(attrs["vpc_id"]),
		TagSpecifications: managedTags(ec2types.ResourceTypeSecurityGroup, name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group %s: %w", name, err)
	}

	id := aws.ToString(out.GroupId)
	if err := c.authorizeIngress(ctx, id, splitList(attrs["ingress_ports"])); err != nil {
		return nil, err
	}

	c.aws.logger.Info("security group created", "name", name, "sg_id", id)
	return &Remote{
		ID:         id,
		Attributes: attrs,
		Outputs:    map[string]string{"sg_id": id},
	}, nil
}

func (c *securityGroupClient) Update(ctx context.Context, remoteID string, attrs map[string]string) (*Remote, error) {
	out, err := c.aws.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{remoteID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe security group %s: %w", remoteID, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, fmt.Errorf("security group %s disappeared during update", remoteID)
	}

	if perms := out.SecurityGroups[0].IpPermissions; len(perms) > 0 {
		_, err = c.aws.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(remoteID),
			IpPermissions: perms,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to revoke ingress on %s: %w", remoteID, err)
		}
	}
	if err := c.authorizeIngress(ctx, remoteID, splitList(attrs["ingress_ports"])); err != nil {
		return nil, err
	}

	return &Remote{
		ID:         remoteID,
		Attributes: attrs,
		Outputs:    map[string]string{"sg_id": remoteID},
	}, nil
}

func (c *securityGroupClient) Delete(ctx context.Context, remoteID string, attrs map[string]string) error {
	_, err := c.aws.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(remoteID),
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete security group %s: %w", remoteID, err)
	}
	return nil
}

func (c *securityGroupClient) authorizeIngress(ctx context.Context, sgID string, ports []string) error {
	if len(ports) == 0 {
		return nil
	}
	perms := make([]ec2types.IpPermission, 0, len(ports))
	for _, p := range ports {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid ingress port %q: %w", p, err)
		}
		perms = append(perms, ec2types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(int32(port)),
			ToPort:     aws.Int32(int32(port)),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		})
	}
	_, err := c.aws.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       aws.String(sgID),
		IpPermissions: perms,
	})
	if err != nil {
		return fmt.Errorf("failed to authorize ingress on %s: %w", sgID, err)
	}
	return nil
}

// =============================================================================
// EC2 Helpers
// =============================================================================

func managedTags(rt ec2types.ResourceType, name string) []ec2types.TagSpecification {
	return []ec2types.TagSpecification{{
		ResourceType: rt,
		Tags: []ec2types.Tag{
			{Key: aws.String("Name"), Value: aws.String(name)},
			{Key: aws.String("ManagedBy"), Value: aws.String(managedByTag)},
		},
	}}
}

func managedFilters(name string) []ec2types.Filter {
	return []ec2types.Filter{
		{Name: aws.String("tag:Name"), Values: []string{name}},
		{Name: aws.String("tag:ManagedBy"), Values: []string{managedByTag}},
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
