// cmd/api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"libranexus/internal/clients"
	"libranexus/pkg/tracing"
)

func main() {
	ctx := context.Background()
	shutdown, err := tracing.Setup(ctx, "api-gateway")
	if err != nil {
		log.Fatalf("setup tracing: %v", err)
	}
	defer shutdown(ctx)

	catalogServiceURL, _ := url.Parse(getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"))
	circulationServiceURL, _ := url.Parse(getEnv("CIRCULATION_SERVICE_URL", "http://localhost:8082"))
	membershipServiceURL, _ := url.Parse(getEnv("MEMBERSHIP_SERVICE_URL", "http://localhost:8083"))

	catalogProxy := httputil.NewSingleHostReverseProxy(catalogServiceURL)
	catalogProxy.Transport = clients.NewBreakerTransport("catalog", nil)

	circulationProxy := httputil.NewSingleHostReverseProxy(circulationServiceURL)
	circulationProxy.Transport = clients.NewBreakerTransport("circulation", nil)

	membershipProxy := httputil.NewSingleHostReverseProxy(membershipServiceURL)
	membershipProxy.Transport = clients.NewBreakerTransport("membership", nil)

	http.Handle("/api/v1/catalog/", http.StripPrefix("/api/v1/catalog", catalogProxy))
	http.Handle("/api/v1/circulation/", http.StripPrefix("/api/v1/circulation", circulationProxy))
	http.Handle("/api/v1/members/", http.StripPrefix("/api/v1/members", membershipProxy))

	port := getEnv("PORT", "8080")
	log.Printf("API Gateway listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
