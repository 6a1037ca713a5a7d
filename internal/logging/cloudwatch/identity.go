package cloudwatch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

type metadataClient interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

var newMetadataClient = func(cfg aws.Config) metadataClient {
	return imds.NewFromConfig(cfg)
}

// InstanceID asks the EC2 instance metadata service for this host's instance id.
func InstanceID(ctx context.Context, cfg aws.Config) (string, error) {
	out, err := newMetadataClient(cfg).GetMetadata(ctx, &imds.GetMetadataInput{Path: "instance-id"})
	if err != nil {
		return "", fmt.Errorf("get instance id: %w", err)
	}
	defer out.Content.Close()

	raw, err := io.ReadAll(out.Content)
	if err != nil {
		return "", fmt.Errorf("read instance id: %w", err)
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", fmt.Errorf("empty instance id")
	}
	return id, nil
}
