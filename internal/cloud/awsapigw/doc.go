// Package awsapigw implements gateway.CloudAPI on AWS API Gateway.
//
// Every endpoint is a regional REST API with an ANY method on the root
// resource and on a {proxy+} resource, both wired to an HTTP_PROXY
// integration that targets the pool's base URL. The integration maps the
// X-Host, X-Forwarded-Header and X-User-Agent request headers back to Host,
// X-Forwarded-For and User-Agent. The API is deployed to a single stage and
// reached at https://{id}.execute-api.{region}.amazonaws.com/{stage}.
package awsapigw
