// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"

	discoveryengine "cloud.google.com/go/discoveryengine/apiv1alpha"
	"cloud.google.com/go/discoveryengine/apiv1alpha/discoveryenginepb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
)

// DiscoveryEngineClient implements SearchClient on the Vertex AI Search
// conversational API.
//
// Credentials come from Application Default Credentials unless opts
// say otherwise.
type DiscoveryEngineClient struct {
	client *discoveryengine.ConversationalSearchClient
}

// NewDiscoveryEngineClient dials the conversational search service.
//
// Non-global locations are routed to their regional endpoint.
func NewDiscoveryEngineClient(ctx context.Context, res Resource, opts ...option.ClientOption) (*DiscoveryEngineClient, error) {
	if endpoint := res.Endpoint(); endpoint != "" {
		opts = append([]option.ClientOption{option.WithEndpoint(endpoint)}, opts...)
	}
	c, err := discoveryengine.NewConversationalSearchClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create conversational search client: %w", err)
	}
	return &DiscoveryEngineClient{client: c}, nil
}

// CreateConversation creates an empty conversation under parent.
func (d *DiscoveryEngineClient) CreateConversation(ctx context.Context, parent string) (string, error) {
	conv, err := d.client.CreateConversation(ctx, &discoveryenginepb.CreateConversationRequest{
		Parent:       parent,
		Conversation: &discoveryenginepb.Conversation{},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", status.Code(err), err)
	}
	return conv.GetName(), nil
}

// Converse sends one query to the conversation named by req.Handle.
func (d *DiscoveryEngineClient) Converse(ctx context.Context, req ConverseRequest) (*ConverseResult, error) {
	resp, err := d.client.ConverseConversation(ctx, &discoveryenginepb.ConverseConversationRequest{
		Name:          req.Handle,
		Query:         &discoveryenginepb.TextInput{Input: req.Query},
		ServingConfig: req.ServingConfig,
		SummarySpec: &discoveryenginepb.SearchRequest_ContentSearchSpec_SummarySpec{
			SummaryResultCount: req.Summary.ResultCount,
			IncludeCitations:   req.Summary.IncludeCitations,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", status.Code(err), err)
	}
	return &ConverseResult{
		Summary:          resp.GetReply().GetSummary().GetSummaryText(),
		ConversationName: resp.GetConversation().GetName(),
	}, nil
}

// Close releases the underlying gRPC connection.
func (d *DiscoveryEngineClient) Close() error {
	return d.client.Close()
}

var _ SearchClient = (*DiscoveryEngineClient)(nil)
