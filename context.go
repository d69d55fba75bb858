package authcore

import (
	"context"

	"github.com/commercekit/authcore/device"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type acceptLanguageContextKey struct{}
type acceptEncodingContextKey struct{}
type locationContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses
// it for device fingerprinting and security event context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithAcceptLanguage attaches the Accept-Language header value to ctx.
// It participates in device fingerprinting.
func WithAcceptLanguage(ctx context.Context, acceptLanguage string) context.Context {
	return context.WithValue(ctx, acceptLanguageContextKey{}, acceptLanguage)
}

// WithAcceptEncoding attaches the Accept-Encoding header value to ctx.
// It participates in device fingerprinting.
func WithAcceptEncoding(ctx context.Context, acceptEncoding string) context.Context {
	return context.WithValue(ctx, acceptEncodingContextKey{}, acceptEncoding)
}

// WithLocation attaches a caller-resolved coarse location string (for
// example "Berlin, DE") shown in device lists. The engine never
// geolocates on its own.
func WithLocation(ctx context.Context, location string) context.Context {
	return context.WithValue(ctx, locationContextKey{}, location)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func acceptLanguageFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(acceptLanguageContextKey{}).(string)
	return v
}

func acceptEncodingFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(acceptEncodingContextKey{}).(string)
	return v
}

func locationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(locationContextKey{}).(string)
	return v
}

func deviceAttributesFromContext(ctx context.Context) device.Attributes {
	return device.Attributes{
		IP:             clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		AcceptLanguage: acceptLanguageFromContext(ctx),
		AcceptEncoding: acceptEncodingFromContext(ctx),
	}
}
