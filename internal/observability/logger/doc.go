// Package logger expone un logger Zap de proceso con scoping por contexto.
//
// Init se llama una sola vez desde cmd/grantengine. Los services obtienen el
// logger del request con From(ctx) y lo acotan con Layer/Component/Op:
//
//	log := logger.From(ctx).With(
//	    logger.Layer("service"),
//	    logger.Component("grant.registry"),
//	    logger.Op("IssueToken"),
//	)
//	log.Info("token issued", logger.GrantID(g.ID), logger.TokenKind(string(kind)))
//
// Nunca loguear valores de tokens ni secretos: usar el hash (logger.TokenHash).
package logger
