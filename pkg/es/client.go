// Package es builds the Elasticsearch client and manages index creation.
package es

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/pkg/log"
)

// NewClient creates an Elasticsearch client from config.
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	addresses := strings.Split(esCfg.Addresses, ",")
	for i := range addresses {
		addresses[i] = strings.TrimSpace(addresses[i])
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// EnsureIndex creates indexName with mapping unless it already exists.
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName, mapping string) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{indexName}}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] index '%s' already exists", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index %s: unexpected status %d", indexName, res.StatusCode)
	}

	res, err = esapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(mapping),
	}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// another replica may have won the race
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", indexName, string(body))
	}

	log.Infof("[ES] index '%s' created", indexName)
	return nil
}

// ResponseError reads an error response into an error value.
func ResponseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return fmt.Errorf("%s: elasticsearch returned %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}
