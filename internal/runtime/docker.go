package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
)

// DockerAdapter implements Adapter against a real Docker Engine API
// daemon via github.com/docker/docker/client.
type DockerAdapter struct {
	sdk *dockerclient.Client
}

// NewDockerAdapter builds a DockerAdapter from the environment's
// standard Docker connection variables (DOCKER_HOST etc).
func NewDockerAdapter() (*DockerAdapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: create docker client: %w", err)
	}
	return &DockerAdapter{sdk: cli}, nil
}

// Create pulls the image if absent, builds the container and host
// configs, and issues ContainerCreate. The returned id is not started.
func (a *DockerAdapter) Create(ctx context.Context, spec Spec) (string, error) {
	if err := a.pullIfNotPresent(ctx, spec.Image); err != nil {
		return "", &orcherr.RuntimeTransient{Cause: err}
	}

	internalConfig := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Cmd:    spec.Cmd,
		Labels: spec.Labels,
	}

	portSet, portMap := buildPortBindings(spec.PortBindings)
	internalConfig.ExposedPorts = portSet

	hostConfig := &container.HostConfig{
		PortBindings: portMap,
	}

	var netConfig *network.NetworkingConfig
	if spec.Network != "" {
		netConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := a.sdk.ContainerCreate(ctx, internalConfig, hostConfig, netConfig, nil, "")
	if err != nil {
		return "", classifyErr(err)
	}
	return resp.ID, nil
}

// Start transitions a created container to running.
func (a *DockerAdapter) Start(ctx context.Context, containerID string) error {
	if err := a.sdk.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return classifyErr(err)
	}
	return nil
}

// Inspect reports the normalized runtime state of a container.
func (a *DockerAdapter) Inspect(ctx context.Context, containerID string) (RuntimeState, error) {
	info, err := a.sdk.ContainerInspect(ctx, containerID)
	if err != nil {
		return RuntimeState{}, classifyErr(err)
	}
	return RuntimeState{
		ContainerID: info.ID,
		State:       State(info.State.Status),
		StartedAt:   info.State.StartedAt,
		Labels:      info.Config.Labels,
		Ports:       extractPorts(info),
	}, nil
}

// ListByLabel returns a summary for every container carrying the
// given label key=value, running or stopped.
func (a *DockerAdapter) ListByLabel(ctx context.Context, key, value string) ([]ContainerSummary, error) {
	f := filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", key, value)))
	containers, err := a.sdk.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, classifyErr(err)
	}
	out := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		ports := make(Ports)
		for _, p := range c.Ports {
			if p.PublicPort != 0 {
				ports[fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)] = int(p.PublicPort)
			}
		}
		out = append(out, ContainerSummary{
			ContainerID: c.ID,
			Names:       c.Names,
			State:       State(c.State),
			Labels:      c.Labels,
			Ports:       ports,
		})
	}
	return out, nil
}

// Remove deletes a container. force also kills a running container
// before removal; without it, removing a running container fails.
func (a *DockerAdapter) Remove(ctx context.Context, containerID string, force bool) error {
	err := a.sdk.ContainerRemove(ctx, containerID, container.RemoveOptions{
		RemoveVolumes: true,
		Force:         force,
	})
	if err != nil {
		return classifyErr(err)
	}
	return nil
}

func (a *DockerAdapter) pullIfNotPresent(ctx context.Context, imageRef string) error {
	_, err := a.sdk.ImageInspect(ctx, imageRef)
	if err == nil {
		return nil
	}
	if !dockerclient.IsErrNotFound(err) {
		return err
	}
	rc, err := a.sdk.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", imageRef, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("drain pull stream for %s: %w", imageRef, err)
	}
	return nil
}

func buildPortBindings(bindings map[string]int) (nat.PortSet, nat.PortMap) {
	portSet := make(nat.PortSet, len(bindings))
	portMap := make(nat.PortMap, len(bindings))
	for internal, hostPort := range bindings {
		p := nat.Port(internal)
		portSet[p] = struct{}{}
		portMap[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}}
	}
	return portSet, portMap
}

func extractPorts(info dockertypes.ContainerJSON) Ports {
	ports := make(Ports)
	if info.NetworkSettings == nil {
		return ports
	}
	for internal, bindings := range info.NetworkSettings.Ports {
		for _, b := range bindings {
			if b.HostPort == "" {
				continue
			}
			hp, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			ports[string(internal)] = hp
		}
	}
	return ports
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if dockerclient.IsErrNotFound(err) {
		return &orcherr.NotFound{Kind: "container", ID: ""}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "eof") {
		return &orcherr.RuntimeTransient{Cause: err}
	}
	return &orcherr.RuntimeFatal{Cause: err}
}
