package controlplane

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aura-ops/aura-deploy/internal/taskdef"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"
)

const serviceMissingReason = "MISSING"

// ECSClient implements Client against AWS ECS and EC2 (for network
// interface lookups).
type ECSClient struct {
	ecs    *ecs.Client
	ec2    *ec2.Client
	logger zerolog.Logger
}

// NewECSClient loads the default AWS configuration for the given region.
func NewECSClient(ctx context.Context, region string, logger zerolog.Logger) (*ECSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &ECSClient{
		ecs:    ecs.NewFromConfig(cfg),
		ec2:    ec2.NewFromConfig(cfg),
		logger: logger.With().Str("component", "controlplane").Logger(),
	}, nil
}

// DescribeService implements Client.
func (c *ECSClient) DescribeService(ctx context.Context, cluster, name string) (ServiceState, error) {
	c.logger.Debug().Str("cluster", cluster).Str("service", name).Msg("ecs:DescribeServices")

	var state ServiceState
	err := withRetry(ctx, func() error {
		resp, err := c.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(cluster),
			Services: []string{name},
		})
		if err != nil {
			return err
		}

		for _, failure := range resp.Failures {
			if aws.ToString(failure.Reason) == serviceMissingReason {
				return ErrServiceNotFound
			}
		}
		if len(resp.Services) == 0 {
			return ErrServiceNotFound
		}

		state = mapService(resp.Services[0])
		return nil
	})
	if err != nil {
		return ServiceState{}, err
	}
	return state, nil
}

// ListServices implements Client.
func (c *ECSClient) ListServices(ctx context.Context, cluster string) ([]string, error) {
	c.logger.Debug().Str("cluster", cluster).Msg("ecs:ListServices")

	var names []string
	err := withRetry(ctx, func() error {
		names = names[:0]
		paginator := ecs.NewListServicesPaginator(c.ecs, &ecs.ListServicesInput{
			Cluster: aws.String(cluster),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, arn := range page.ServiceArns {
				names = append(names, nameFromARN(arn))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// RegisterTaskDefinition implements Client.
func (c *ECSClient) RegisterTaskDefinition(ctx context.Context, def taskdef.Definition) (TaskDefinitionRevision, error) {
	c.logger.Debug().Str("family", def.Family).Msg("ecs:RegisterTaskDefinition")

	input := &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(def.Family),
		ContainerDefinitions:    mapContainerDefinitions(def.ContainerDefinitions),
		NetworkMode:             ecstypes.NetworkMode(def.NetworkMode),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
	}
	if def.CPU != "" {
		input.Cpu = aws.String(def.CPU)
	}
	if def.Memory != "" {
		input.Memory = aws.String(def.Memory)
	}
	if def.ExecutionRoleARN != "" {
		input.ExecutionRoleArn = aws.String(def.ExecutionRoleARN)
	}
	if def.TaskRoleARN != "" {
		input.TaskRoleArn = aws.String(def.TaskRoleARN)
	}

	var revision TaskDefinitionRevision
	err := withRetry(ctx, func() error {
		resp, err := c.ecs.RegisterTaskDefinition(ctx, input)
		if err != nil {
			return err
		}
		td := resp.TaskDefinition
		revision = TaskDefinitionRevision{
			Family:   aws.ToString(td.Family),
			ARN:      aws.ToString(td.TaskDefinitionArn),
			Revision: int(td.Revision),
		}
		if td.RegisteredAt != nil {
			revision.RegisteredAt = *td.RegisteredAt
		}
		return nil
	})
	if err != nil {
		return TaskDefinitionRevision{}, err
	}
	return revision, nil
}

// CreateService implements Client.
func (c *ECSClient) CreateService(ctx context.Context, cluster string, in CreateServiceInput) error {
	c.logger.Debug().Str("cluster", cluster).Str("service", in.ServiceName).Msg("ecs:CreateService")

	assignPublicIP := ecstypes.AssignPublicIpDisabled
	if in.Network.AssignPublicIP {
		assignPublicIP = ecstypes.AssignPublicIpEnabled
	}

	return withRetry(ctx, func() error {
		_, err := c.ecs.CreateService(ctx, &ecs.CreateServiceInput{
			Cluster:        aws.String(cluster),
			ServiceName:    aws.String(in.ServiceName),
			TaskDefinition: aws.String(in.TaskDefinitionARN),
			DesiredCount:   aws.Int32(int32(in.DesiredCount)),
			LaunchType:     ecstypes.LaunchTypeFargate,
			NetworkConfiguration: &ecstypes.NetworkConfiguration{
				AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
					Subnets:        in.Network.Subnets,
					SecurityGroups: in.Network.SecurityGroups,
					AssignPublicIp: assignPublicIP,
				},
			},
		})
		return err
	})
}

// UpdateService implements Client.
func (c *ECSClient) UpdateService(ctx context.Context, cluster, name, taskDefinitionARN string) error {
	c.logger.Debug().Str("cluster", cluster).Str("service", name).Msg("ecs:UpdateService")

	return withRetry(ctx, func() error {
		_, err := c.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:        aws.String(cluster),
			Service:        aws.String(name),
			TaskDefinition: aws.String(taskDefinitionARN),
		})
		return err
	})
}

// ScaleService implements Client.
func (c *ECSClient) ScaleService(ctx context.Context, cluster, name string, desired int) error {
	c.logger.Debug().Str("cluster", cluster).Str("service", name).Int("desired", desired).Msg("ecs:UpdateService scale")

	return withRetry(ctx, func() error {
		_, err := c.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
			Cluster:      aws.String(cluster),
			Service:      aws.String(name),
			DesiredCount: aws.Int32(int32(desired)),
		})
		return err
	})
}

// DeleteService implements Client.
func (c *ECSClient) DeleteService(ctx context.Context, cluster, name string) error {
	c.logger.Debug().Str("cluster", cluster).Str("service", name).Msg("ecs:DeleteService")

	return withRetry(ctx, func() error {
		_, err := c.ecs.DeleteService(ctx, &ecs.DeleteServiceInput{
			Cluster: aws.String(cluster),
			Service: aws.String(name),
		})
		return err
	})
}

// ListTaskDefinitionRevisions implements Client. Revisions within a family
// are an append-only chain, so ARN revision order equals registration order.
func (c *ECSClient) ListTaskDefinitionRevisions(ctx context.Context, family string) ([]TaskDefinitionRevision, error) {
	c.logger.Debug().Str("family", family).Msg("ecs:ListTaskDefinitions")

	var revisions []TaskDefinitionRevision
	err := withRetry(ctx, func() error {
		revisions = revisions[:0]
		paginator := ecs.NewListTaskDefinitionsPaginator(c.ecs, &ecs.ListTaskDefinitionsInput{
			FamilyPrefix: aws.String(family),
			Status:       ecstypes.TaskDefinitionStatusActive,
			Sort:         ecstypes.SortOrderDesc,
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, arn := range page.TaskDefinitionArns {
				revisions = append(revisions, TaskDefinitionRevision{
					Family:   family,
					ARN:      arn,
					Revision: revisionFromARN(arn),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revisions, nil
}

// DeregisterTaskDefinition implements Client.
func (c *ECSClient) DeregisterTaskDefinition(ctx context.Context, arn string) error {
	c.logger.Debug().Str("arn", arn).Msg("ecs:DeregisterTaskDefinition")

	return withRetry(ctx, func() error {
		_, err := c.ecs.DeregisterTaskDefinition(ctx, &ecs.DeregisterTaskDefinitionInput{
			TaskDefinition: aws.String(arn),
		})
		return err
	})
}

// ResolveTaskPublicAddress implements Client.
func (c *ECSClient) ResolveTaskPublicAddress(ctx context.Context, cluster, serviceName string) (string, error) {
	c.logger.Debug().Str("cluster", cluster).Str("service", serviceName).Msg("ecs:ListTasks running")

	var taskARN string
	err := withRetry(ctx, func() error {
		resp, err := c.ecs.ListTasks(ctx, &ecs.ListTasksInput{
			Cluster:       aws.String(cluster),
			ServiceName:   aws.String(serviceName),
			DesiredStatus: ecstypes.DesiredStatusRunning,
			MaxResults:    aws.Int32(1),
		})
		if err != nil {
			return err
		}
		if len(resp.TaskArns) > 0 {
			taskARN = resp.TaskArns[0]
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if taskARN == "" {
		return "", nil
	}

	eniID, err := c.taskNetworkInterface(ctx, cluster, taskARN)
	if err != nil || eniID == "" {
		return "", err
	}

	return c.interfacePublicAddress(ctx, eniID)
}

func (c *ECSClient) taskNetworkInterface(ctx context.Context, cluster, taskARN string) (string, error) {
	var eniID string
	err := withRetry(ctx, func() error {
		resp, err := c.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(cluster),
			Tasks:   []string{taskARN},
		})
		if err != nil {
			return err
		}
		if len(resp.Tasks) == 0 {
			return nil
		}
		for _, attachment := range resp.Tasks[0].Attachments {
			if aws.ToString(attachment.Type) != "ElasticNetworkInterface" {
				continue
			}
			for _, detail := range attachment.Details {
				if aws.ToString(detail.Name) == "networkInterfaceId" {
					eniID = aws.ToString(detail.Value)
					return nil
				}
			}
		}
		return nil
	})
	return eniID, err
}

func (c *ECSClient) interfacePublicAddress(ctx context.Context, eniID string) (string, error) {
	c.logger.Debug().Str("eni", eniID).Msg("ec2:DescribeNetworkInterfaces")

	var address string
	err := withRetry(ctx, func() error {
		resp, err := c.ec2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
			NetworkInterfaceIds: []string{eniID},
		})
		if err != nil {
			return err
		}
		if len(resp.NetworkInterfaces) == 0 {
			return nil
		}
		if assoc := resp.NetworkInterfaces[0].Association; assoc != nil {
			address = aws.ToString(assoc.PublicIp)
		}
		return nil
	})
	return address, err
}

func mapService(svc ecstypes.Service) ServiceState {
	return ServiceState{
		ServiceName:  aws.ToString(svc.ServiceName),
		Status:       ServiceStatus(strings.ToUpper(aws.ToString(svc.Status))),
		DesiredCount: int(svc.DesiredCount),
		RunningCount: int(svc.RunningCount),
		PendingCount: int(svc.PendingCount),
	}
}

func mapContainerDefinitions(containers []taskdef.ContainerDefinition) []ecstypes.ContainerDefinition {
	out := make([]ecstypes.ContainerDefinition, 0, len(containers))
	for _, c := range containers {
		def := ecstypes.ContainerDefinition{
			Name:      aws.String(c.Name),
			Image:     aws.String(c.Image),
			Essential: aws.Bool(c.Essential),
		}
		for _, p := range c.PortMappings {
			protocol := ecstypes.TransportProtocolTcp
			if p.Protocol != "" {
				protocol = ecstypes.TransportProtocol(p.Protocol)
			}
			def.PortMappings = append(def.PortMappings, ecstypes.PortMapping{
				ContainerPort: aws.Int32(int32(p.ContainerPort)),
				Protocol:      protocol,
			})
		}
		for _, e := range c.Environment {
			def.Environment = append(def.Environment, ecstypes.KeyValuePair{
				Name:  aws.String(e.Name),
				Value: aws.String(e.Value),
			})
		}
		if c.LogConfiguration != nil {
			def.LogConfiguration = &ecstypes.LogConfiguration{
				LogDriver: ecstypes.LogDriver(c.LogConfiguration.LogDriver),
				Options:   c.LogConfiguration.Options,
			}
		}
		out = append(out, def)
	}
	return out
}

// nameFromARN returns the last segment after "/" in an ARN.
func nameFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	return parts[len(parts)-1]
}

// revisionFromARN parses the ":N" revision suffix of a task-definition ARN.
func revisionFromARN(arn string) int {
	idx := strings.LastIndex(arn, ":")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(arn[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
