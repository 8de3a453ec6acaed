// Package grpcserver serves the LiteMQ gRPC service and the standard
// grpc.health.v1 service on top of a broker.Broker.
package grpcserver
