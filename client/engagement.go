package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/autoglean/types"
)

const maxLeaderboardLimit = 50

func (a *API) Favorite(ctx context.Context, id int64) error {
	_, _, err := a.client.Call(ctx, fasthttp.MethodPost, extractorPath(id, "/favorite"), nil, &types.CallOptions{Auth: true})
	return err
}

// Unfavorite succeeds whether or not the extractor was a favorite.
func (a *API) Unfavorite(ctx context.Context, id int64) error {
	_, _, err := a.client.Call(ctx, fasthttp.MethodDelete, extractorPath(id, "/favorite"), nil, &types.CallOptions{Auth: true})
	return err
}

// Rate sets the caller's 1 to 5 star rating, replacing an earlier one.
func (a *API) Rate(ctx context.Context, id int64, stars int, review string) (*types.Rating, error) {
	if stars < types.MinRating || stars > types.MaxRating {
		return nil, types.Errorf(types.ErrInvalidParameter, "rating %d is outside %d..%d", stars, types.MinRating, types.MaxRating)
	}

	req := &types.RatingRequest{Rating: stars}
	if review != "" {
		req.Review = &review
	}

	body, _, err := a.client.Call(ctx, fasthttp.MethodPost, extractorPath(id, "/rate"), req, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var rating types.Rating
	if err := Decode(body, &rating); err != nil {
		return nil, err
	}

	return &rating, nil
}

func (a *API) Ratings(ctx context.Context, id int64) ([]types.Rating, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, extractorPath(id, "/ratings"), nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	return DecodeList[types.Rating](body)
}

// Shares lists who an extractor is shared with. Only the owner may ask.
func (a *API) Shares(ctx context.Context, id int64) ([]types.Share, error) {
	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, extractorPath(id, "/shares"), nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	return DecodeList[types.Share](body)
}

// Share grants userID access. Sharing twice returns the existing share.
func (a *API) Share(ctx context.Context, id, userID int64) (*types.Share, error) {
	if userID <= 0 {
		return nil, types.Errorf(types.ErrInvalidParameter, "user id %d", userID)
	}

	body, _, err := a.client.Call(ctx, fasthttp.MethodPost, extractorPath(id, "/share"),
		&types.ShareRequest{UserID: userID}, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var share types.Share
	if err := Decode(body, &share); err != nil {
		return nil, err
	}

	return &share, nil
}

func (a *API) Unshare(ctx context.Context, id, userID int64) error {
	_, _, err := a.client.Call(ctx, fasthttp.MethodDelete,
		extractorPath(id, "/share/"+strconv.FormatInt(userID, 10)), nil, &types.CallOptions{Auth: true})
	return err
}

// Jobs lists the caller's extraction jobs, newest first.
func (a *API) Jobs(ctx context.Context, query types.JobQuery) (*types.JobList, error) {
	if err := validate.Struct(&query); err != nil {
		return nil, types.Wrap(types.ErrInvalidParameter, err)
	}

	var args fasthttp.Args
	if query.ExtractorID > 0 {
		args.Set("extractor_id", strconv.FormatInt(query.ExtractorID, 10))
	}
	if query.Status != "" {
		args.Set("status", query.Status)
	}
	if query.Limit > 0 {
		args.SetUint("limit", query.Limit)
	}
	if query.Offset > 0 {
		args.SetUint("offset", query.Offset)
	}

	path := "/api/jobs"
	if args.Len() > 0 {
		path += "?" + args.String()
	}

	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, path, nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var list types.JobList
	if err := Decode(body, &list); err != nil {
		return nil, err
	}

	return &list, nil
}

func (a *API) Job(ctx context.Context, jobID string) (*types.Job, error) {
	if jobID == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "job id is empty")
	}

	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var job types.Job
	if err := Decode(body, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// Leaderboard fetches the top-N lists; limit 0 leaves the size to the
// backend.
func (a *API) Leaderboard(ctx context.Context, limit int) (*types.Leaderboard, error) {
	if limit < 0 || limit > maxLeaderboardLimit {
		return nil, types.Errorf(types.ErrInvalidParameter, "leaderboard limit %d is outside 0..%d", limit, maxLeaderboardLimit)
	}

	path := "/api/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	body, _, err := a.client.Call(ctx, fasthttp.MethodGet, path, nil, &types.CallOptions{Auth: true})
	if err != nil {
		return nil, err
	}

	var board types.Leaderboard
	if err := Decode(body, &board); err != nil {
		return nil, err
	}

	return &board, nil
}
