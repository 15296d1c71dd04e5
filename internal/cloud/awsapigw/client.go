package awsapigw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/smithy-go"

	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Defaults.
const (
	DefaultStageName       = config.DefaultStageName
	DefaultPaginationLimit = config.DefaultPaginationLimit
)

// Regions is the catalog of regions offered by this provider.
var Regions = []gateway.Region{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1",
	"ap-south-1", "ap-northeast-2", "ap-southeast-1", "ap-southeast-2",
	"ap-northeast-1", "sa-east-1",
}

// API is the subset of the API Gateway client used here.
type API interface {
	CreateRestApi(ctx context.Context, in *apigateway.CreateRestApiInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateRestApiOutput, error)
	GetResources(ctx context.Context, in *apigateway.GetResourcesInput, optFns ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error)
	CreateResource(ctx context.Context, in *apigateway.CreateResourceInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateResourceOutput, error)
	PutMethod(ctx context.Context, in *apigateway.PutMethodInput, optFns ...func(*apigateway.Options)) (*apigateway.PutMethodOutput, error)
	PutIntegration(ctx context.Context, in *apigateway.PutIntegrationInput, optFns ...func(*apigateway.Options)) (*apigateway.PutIntegrationOutput, error)
	CreateDeployment(ctx context.Context, in *apigateway.CreateDeploymentInput, optFns ...func(*apigateway.Options)) (*apigateway.CreateDeploymentOutput, error)
	DeleteRestApi(ctx context.Context, in *apigateway.DeleteRestApiInput, optFns ...func(*apigateway.Options)) (*apigateway.DeleteRestApiOutput, error)
	GetRestApis(ctx context.Context, in *apigateway.GetRestApisInput, optFns ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error)
}

// ClientFactory returns the API client for a region.
type ClientFactory func(region gateway.Region) API

// Cloud is a gateway.CloudAPI and gateway.EndpointLister on AWS API Gateway.
type Cloud struct {
	factory         ClientFactory
	stage           string
	paginationLimit int32
	logger          observability.Logger

	mu      sync.Mutex
	clients map[gateway.Region]API
}

// Option is a functional option for configuring a Cloud.
type Option func(*Cloud)

// WithClientFactory replaces how per-region clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Cloud) {
		c.factory = f
	}
}

// WithStageName sets the deployment stage.
func WithStageName(stage string) Option {
	return func(c *Cloud) {
		if stage != "" {
			c.stage = stage
		}
	}
}

// WithPaginationLimit sets the page size used to list REST APIs.
func WithPaginationLimit(n int) Option {
	return func(c *Cloud) {
		if n > 0 && n <= 500 {
			c.paginationLimit = int32(n) //nolint:gosec // bounds checked above
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Cloud) {
		c.logger = logger
	}
}

// New creates a Cloud. Without WithClientFactory it builds clients from awsCfg.
func New(awsCfg aws.Config, opts ...Option) *Cloud {
	c := &Cloud{
		stage:           DefaultStageName,
		paginationLimit: DefaultPaginationLimit,
		logger:          observability.NopLogger(),
		clients:         make(map[gateway.Region]API),
	}
	c.factory = func(region gateway.Region) API {
		return apigateway.NewFromConfig(awsCfg, func(o *apigateway.Options) {
			o.Region = string(region)
		})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadAWSConfig resolves AWS credentials. Static keys from cfg win over the
// default credential chain.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	// API Gateway is regional; clients override this per call.
	opts = append(opts, awsconfig.WithRegion(string(gateway.DefaultRegion)))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func (c *Cloud) client(region gateway.Region) API {
	c.mu.Lock()
	defer c.mu.Unlock()

	if api, ok := c.clients[region]; ok {
		return api
	}
	api := c.factory(region)
	c.clients[region] = api
	return api
}

// BaseURL returns the invoke URL of a deployed REST API.
func (c *Cloud) BaseURL(region gateway.Region, id string) string {
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", id, region, c.stage)
}

// ListRegions implements gateway.CloudAPI.
func (c *Cloud) ListRegions(context.Context) ([]gateway.Region, error) {
	return append([]gateway.Region(nil), Regions...), nil
}

// CreateEndpoint implements gateway.CloudAPI. A REST API left half
// configured by a failed step is deleted before returning.
func (c *Cloud) CreateEndpoint(ctx context.Context, region gateway.Region, spec gateway.EndpointSpec) (gateway.EndpointHandle, error) {
	api := c.client(region)
	target := strings.TrimRight(spec.TargetURL, "/")

	created, err := api.CreateRestApi(ctx, &apigateway.CreateRestApiInput{
		Name: aws.String(spec.Name),
		EndpointConfiguration: &types.EndpointConfiguration{
			Types: []types.EndpointType{types.EndpointTypeRegional},
		},
	})
	if err != nil {
		return gateway.EndpointHandle{}, fmt.Errorf("create rest api: %w", mapError(err))
	}
	id := aws.ToString(created.Id)

	if err := c.configure(ctx, api, id, target); err != nil {
		if _, delErr := api.DeleteRestApi(context.WithoutCancel(ctx), &apigateway.DeleteRestApiInput{
			RestApiId: aws.String(id),
		}); delErr != nil {
			c.logger.Warn("failed to remove partially configured rest api",
				observability.String(observability.FieldRegion, string(region)),
				observability.String(observability.FieldEndpointID, id),
				observability.Error(delErr),
			)
		}
		return gateway.EndpointHandle{}, err
	}

	createdAt := time.Now()
	if created.CreatedDate != nil {
		createdAt = *created.CreatedDate
	}

	return gateway.EndpointHandle{
		ID:        id,
		Name:      aws.ToString(created.Name),
		Region:    region,
		BaseURL:   c.BaseURL(region, id),
		CreatedAt: createdAt,
	}, nil
}

var methodParameters = map[string]bool{
	"method.request.path.proxy":                true,
	"method.request.header.X-Forwarded-Header": true,
	"method.request.header.X-Host":             true,
	"method.request.header.X-User-Agent":       true,
}

var integrationParameters = map[string]string{
	"integration.request.path.proxy":             "method.request.path.proxy",
	"integration.request.header.X-Forwarded-For": "method.request.header.X-Forwarded-Header",
	"integration.request.header.Host":            "method.request.header.X-Host",
	"integration.request.header.User-Agent":      "method.request.header.X-User-Agent",
}

func (c *Cloud) configure(ctx context.Context, api API, id, target string) error {
	resources, err := api.GetResources(ctx, &apigateway.GetResourcesInput{RestApiId: aws.String(id)})
	if err != nil {
		return fmt.Errorf("get resources: %w", mapError(err))
	}
	rootID := ""
	for _, r := range resources.Items {
		if aws.ToString(r.Path) == "/" {
			rootID = aws.ToString(r.Id)
			break
		}
	}
	if rootID == "" && len(resources.Items) > 0 {
		rootID = aws.ToString(resources.Items[0].Id)
	}
	if rootID == "" {
		return fmt.Errorf("rest api %s has no root resource", id)
	}

	proxy, err := api.CreateResource(ctx, &apigateway.CreateResourceInput{
		RestApiId: aws.String(id),
		ParentId:  aws.String(rootID),
		PathPart:  aws.String("{proxy+}"),
	})
	if err != nil {
		return fmt.Errorf("create proxy resource: %w", mapError(err))
	}

	if err := c.wireResource(ctx, api, id, rootID, target); err != nil {
		return err
	}
	if err := c.wireResource(ctx, api, id, aws.ToString(proxy.Id), target+"/{proxy}"); err != nil {
		return err
	}

	if _, err := api.CreateDeployment(ctx, &apigateway.CreateDeploymentInput{
		RestApiId: aws.String(id),
		StageName: aws.String(c.stage),
	}); err != nil {
		return fmt.Errorf("create deployment: %w", mapError(err))
	}
	return nil
}

func (c *Cloud) wireResource(ctx context.Context, api API, id, resourceID, uri string) error {
	if _, err := api.PutMethod(ctx, &apigateway.PutMethodInput{
		RestApiId:         aws.String(id),
		ResourceId:        aws.String(resourceID),
		HttpMethod:        aws.String("ANY"),
		AuthorizationType: aws.String("NONE"),
		RequestParameters: methodParameters,
	}); err != nil {
		return fmt.Errorf("put method: %w", mapError(err))
	}

	if _, err := api.PutIntegration(ctx, &apigateway.PutIntegrationInput{
		RestApiId:             aws.String(id),
		ResourceId:            aws.String(resourceID),
		HttpMethod:            aws.String("ANY"),
		Type:                  types.IntegrationTypeHttpProxy,
		IntegrationHttpMethod: aws.String("ANY"),
		Uri:                   aws.String(uri),
		ConnectionType:        types.ConnectionTypeInternet,
		RequestParameters:     integrationParameters,
	}); err != nil {
		return fmt.Errorf("put integration: %w", mapError(err))
	}
	return nil
}

// DeleteEndpoint implements gateway.CloudAPI.
func (c *Cloud) DeleteEndpoint(ctx context.Context, h gateway.EndpointHandle) error {
	_, err := c.client(h.Region).DeleteRestApi(ctx, &apigateway.DeleteRestApiInput{
		RestApiId: aws.String(h.ID),
	})
	if err != nil {
		return fmt.Errorf("delete rest api %s: %w", h.ID, mapError(err))
	}
	return nil
}

// ListEndpoints implements gateway.EndpointLister.
func (c *Cloud) ListEndpoints(ctx context.Context, region gateway.Region, baseName string) ([]gateway.EndpointHandle, error) {
	paginator := apigateway.NewGetRestApisPaginator(c.client(region), &apigateway.GetRestApisInput{
		Limit: aws.Int32(c.paginationLimit),
	})

	var out []gateway.EndpointHandle
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get rest apis: %w", mapError(err))
		}
		for _, item := range page.Items {
			name := aws.ToString(item.Name)
			if !gateway.MatchesName(name, baseName) {
				continue
			}
			id := aws.ToString(item.Id)
			h := gateway.EndpointHandle{
				ID:      id,
				Name:    name,
				Region:  region,
				BaseURL: c.BaseURL(region, id),
			}
			if item.CreatedDate != nil {
				h.CreatedAt = *item.CreatedDate
			}
			out = append(out, h)
		}
	}
	return out, nil
}

// mapError tags provider errors with the gateway conditions they represent.
func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "ThrottlingException":
		return fmt.Errorf("%w: %w", gateway.ErrThrottled, err)
	case "NotFoundException":
		return fmt.Errorf("%w: %w", gateway.ErrEndpointNotFound, err)
	default:
		return err
	}
}
