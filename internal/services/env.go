package services

import (
	"github.com/Lllllllleong/archivedownloadflow/internal/events"
	"github.com/Lllllllleong/archivedownloadflow/internal/gcp"
)

// eventsConfigFromEnv assembles the broker configuration shared by all
// entrypoints.
func eventsConfigFromEnv() events.Config {
	return events.Config{
		IngressURL:                gcp.GetEnv("BROKER_INGRESS_URL", ""),
		Source:                    gcp.GetEnv("EVENT_SOURCE", events.DefaultSource),
		FileToRegisterType:        gcp.GetEnv("FILE_TO_REGISTER_TYPE", events.DefaultFileToRegisterType),
		StagingConfirmedType:      gcp.GetEnv("STAGING_CONFIRMED_TYPE", events.DefaultStagingConfirmedType),
		FileDeletionRequestedType: gcp.GetEnv("FILE_DELETION_REQUESTED_TYPE", events.DefaultFileDeletionRequestedType),
		FileRegisteredType:        gcp.GetEnv("FILE_REGISTERED_TYPE", events.DefaultFileRegisteredType),
		UnstagedDownloadType:      gcp.GetEnv("UNSTAGED_DOWNLOAD_TYPE", events.DefaultUnstagedDownloadType),
		DownloadServedType:        gcp.GetEnv("DOWNLOAD_SERVED_TYPE", events.DefaultDownloadServedType),
		FileDeletedType:           gcp.GetEnv("FILE_DELETED_TYPE", events.DefaultFileDeletedType),
	}
}

const defaultCollectionName = "staging-records"
