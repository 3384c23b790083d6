// Package credential resolves presented credentials into an Identity.
//
// Two kinds are supported. API keys have the form "<scope>_<random>" and are
// looked up by an HMAC-SHA256 hash whose key is derived from the application
// secret with HKDF. Bearer tokens are anything with two dots and are handed
// to a ClaimsVerifier; JWTVerifier checks HS256 tokens with issuer and
// audience.
//
//	hasher, err := credential.NewHasher([]byte(cfg.AppSecret))
//	if err != nil {
//		return err
//	}
//	resolver := credential.NewResolver(store, hasher,
//		credential.WithVerifier(jwtVerifier),
//		credential.WithDenialRecorder(credential.NewDenialAuditor(auditLogger,
//			credential.WithRateLimiter(bucket),
//			credential.WithSourceExtractor(clientip.Extractor()),
//		)),
//	)
//
//	id, err := resolver.Resolve(ctx, raw)
//	switch {
//	case errors.Is(err, credential.ErrExpiredCredential):
//	case errors.Is(err, credential.ErrInvalidCredential):
//	case errors.Is(err, credential.ErrStorageUnavailable):
//	}
//
// Every failed resolution is reported to the DenialRecorder exactly once.
// KeyStore.GetAPIKeyByHash is the only lookup that is not tenant-scoped.
package credential
