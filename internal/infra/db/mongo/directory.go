package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appchat "rentchat/internal/app/services/chat"
	domainchat "rentchat/internal/domain/chat"
)

// Directory reads listings and users from the marketplace database. It never
// writes; the collections belong to the listings and accounts services.
type Directory struct {
	listings *mongo.Collection
	users    *mongo.Collection
}

func NewDirectory(db *mongo.Database) *Directory {
	return &Directory{listings: db.Collection("listings"), users: db.Collection("users")}
}

type listingDocument struct {
	ID           string   `bson:"_id"`
	HostID       string   `bson:"host_id"`
	Title        string   `bson:"title"`
	Photos       []string `bson:"photos"`
	ThumbnailURL string   `bson:"thumbnail_url"`
}

func (d listingDocument) summary() domainchat.ListingSummary {
	images := append([]string(nil), d.Photos...)
	if len(images) == 0 && d.ThumbnailURL != "" {
		images = []string{d.ThumbnailURL}
	}
	return domainchat.ListingSummary{ID: d.ID, OwnerID: d.HostID, Title: d.Title, Images: images}
}

type userDocument struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name"`
	AvatarURL string `bson:"avatar_url"`
	Email     string `bson:"email"`
}

func (d *Directory) ListingsOwnedBy(ctx context.Context, userID string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := d.listings.Find(ctx, bson.M{"host_id": userID}, opts)
	if err != nil {
		return nil, domainchat.Upstream("mongo.ListingsOwnedBy", err)
	}
	var docs []listingDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domainchat.Upstream("mongo.ListingsOwnedBy", err)
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.ID)
	}
	return out, nil
}

func (d *Directory) Listings(ctx context.Context, ids []string) (map[string]domainchat.ListingSummary, error) {
	out := make(map[string]domainchat.ListingSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var docs []listingDocument
	if err := d.findByIDs(ctx, d.listings, ids, &docs); err != nil {
		return nil, domainchat.Upstream("mongo.Listings", err)
	}
	for _, doc := range docs {
		out[doc.ID] = doc.summary()
	}
	return out, nil
}

func (d *Directory) Profiles(ctx context.Context, ids []string) (map[string]domainchat.Profile, error) {
	out := make(map[string]domainchat.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var docs []userDocument
	if err := d.findByIDs(ctx, d.users, ids, &docs); err != nil {
		return nil, domainchat.Upstream("mongo.Profiles", err)
	}
	for _, doc := range docs {
		out[doc.ID] = domainchat.Profile{ID: doc.ID, Name: doc.Name, AvatarURL: doc.AvatarURL, Email: doc.Email}
	}
	return out, nil
}

func (d *Directory) findByIDs(ctx context.Context, col *mongo.Collection, ids []string, out any) error {
	cur, err := col.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

var _ appchat.Directory = (*Directory)(nil)
