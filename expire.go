package tally

import "github.com/monzo/terrors"

// ExpirationFilter rejects requests whose context is already done, so an abandoned query never starts a fan-out.
func ExpirationFilter(req Request, svc Service) Response {
	select {
	case <-req.Context.Done():
		return Response{
			Error: terrors.BadRequest("expired", "Request has expired", nil)}
	default:
		return svc(req)
	}
}
